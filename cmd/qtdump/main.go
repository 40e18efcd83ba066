// Command qtdump reads a QuickTime or MP4 file and prints its atom structure.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sunfish-shogi/bufseekio"

	"github.com/tetsuo/qtparse"
)

var depthFlag = flag.Int("depth", 0, "Maximum nesting depth to print (0 prints everything)")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-depth n] <file.mov>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	sc := qtparse.NewScanner(bufseekio.NewReadSeeker(f, 128*1024, 4))
	for sc.Next() {
		e := sc.Entry()
		fmt.Printf("[%s] size=%d offset=%d", e.Type, e.Size, e.Offset)
		if e.HeaderSize == 20 {
			fmt.Printf(" qt")
		}
		fmt.Println()

		// Only metadata atoms are loaded into memory
		if qtparse.IsMediaData(e.Type) {
			fmt.Printf("  dataLen=%d\n", e.DataSize())
			continue
		}
		buf := make([]byte, e.Prefix+int(e.Size))
		if err := sc.ReadAtom(buf); err != nil {
			fmt.Fprintf(os.Stderr, "error reading %s: %v\n", e.Type, err)
			continue
		}
		atoms, err := qtparse.ReadAtoms(buf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error parsing %s: %v\n", e.Type, err)
			continue
		}
		for _, a := range atoms {
			if len(a.Children) == 0 {
				printDetails(a, 1, qtparse.MediaUnknown)
			}
			walk(a.Children, 1, qtparse.MediaUnknown)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "scan error: %v\n", err)
		os.Exit(1)
	}
}

// walk prints atoms and their subtrees. kind is the media kind of the
// enclosing trak, which selects the sample description layout.
func walk(atoms []*qtparse.Atom, depth int, kind qtparse.MediaKind) {
	if *depthFlag > 0 && depth > *depthFlag {
		return
	}
	for _, a := range atoms {
		indent := strings.Repeat("  ", depth)
		fmt.Printf("%s[%s] size=%d", indent, a.Type, a.Size)
		if a.QT {
			fmt.Printf(" id=%d", a.ID)
		}
		fmt.Println()
		k := kind
		if a.Type == qtparse.TypeTrak {
			k = qtparse.Classify(a)
		}
		printDetails(a, depth+1, k)
		walk(a.Children, depth+1, k)
	}
}

// printDetails prints the decoded fields of a, if it is a known atom.
func printDetails(a *qtparse.Atom, depth int, kind qtparse.MediaKind) {
	indent := strings.Repeat("  ", depth)
	p := a.Payload()

	switch a.Type {
	case qtparse.TypeFtyp:
		ft, err := qtparse.DecodeFileType(p)
		if err != nil {
			break
		}
		compat := make([]string, len(ft.Compatible))
		for i, c := range ft.Compatible {
			compat[i] = c.String()
		}
		fmt.Printf("%sbrand=%s ver=%d compat=[%s] quicktime=%v\n", indent, ft.MajorBrand, ft.MinorVersion, strings.Join(compat, ","), ft.IsQuickTime())

	case qtparse.TypeMvhd:
		h, err := qtparse.DecodeMovieHeader(p)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%sv=%d timescale=%d duration=%d nextTrackId=%d\n", indent, h.Version, h.TimeScale, h.Duration, h.NextTrackID)

	case qtparse.TypeTkhd:
		h, err := qtparse.DecodeTrackHeader(p)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%sv=%d flags=0x%06x trackId=%d duration=%d size=%dx%d\n", indent, h.Version, h.Flags, h.TrackID, h.Duration, h.PixelWidth(), h.PixelHeight())

	case qtparse.TypeMdhd:
		h, err := qtparse.DecodeMediaHeader(p)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%sv=%d timescale=%d duration=%d lang=%d\n", indent, h.Version, h.TimeScale, h.Duration, h.Language)

	case qtparse.TypeHdlr:
		h, err := qtparse.DecodeHandler(p)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%scomponent=%s subtype=%s name=%q\n", indent, h.ComponentType, h.ComponentSubtype, h.Name)

	case qtparse.TypeStsd:
		d, err := qtparse.DecodeSampleDescription(p, kind)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%s%s entries=%d format=%s", indent, d.Kind, d.EntryCount, d.Format)
		if v := d.Video; v != nil {
			fmt.Printf(" %dx%d compressor=%q codec=%s", v.Width, v.Height, v.CompressorName, v.Codec)
		}
		if s := d.Sound; s != nil {
			fmt.Printf(" v=%d ch=%d sampleSize=%d sampleRate=%d codec=%s", s.Version, s.ChannelCount, s.SampleSize, s.SampleRate, s.Codec)
		}
		fmt.Println()

	case qtparse.TypeStbl:
		st, err := qtparse.DecodeSampleTable(a)
		if err != nil {
			fmt.Printf("%s%v\n", indent, err)
			break
		}
		fmt.Printf("%ssamples=%d chunks=%d duration=%d", indent, st.SampleCount, st.ChunkCount, st.Duration)
		if st.HasSync {
			fmt.Printf(" sync=%d", st.SyncSamples)
		}
		fmt.Println()

	case qtparse.TypeMdat, qtparse.TypeFree, qtparse.TypeSkip:
		fmt.Printf("%sdataLen=%d\n", indent, a.PayloadLen())
	}
}
