// Command qtparse prints the video dimensions and audio sample rate of a
// QuickTime or MP4 file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/profile"
	"github.com/sunfish-shogi/bufseekio"

	"github.com/tetsuo/qtparse"
	"github.com/tetsuo/qtparse/crosscheck"
)

var (
	atomsFlag  = flag.Bool("atoms", false, "Print the atom tree, listing media data atoms by header")
	strictFlag = flag.Bool("strict", false, "Fail on unknown top-level atom types")
	jsonFlag   = flag.Bool("json", false, "Print the summary as JSON")
	verifyFlag = flag.Bool("verify", false, "Compare the result with an independent go-mp4 extraction")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
	cpuFlag    = flag.String("cpuprofile", "", "Write a CPU profile to this directory")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.mov>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	log := slog.New(slog.DiscardHandler)
	if *debugFlag {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if *cpuFlag != "" {
		p := profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuFlag), profile.Quiet)
		err := run(flag.Arg(0), log)
		p.Stop()
		exit(err)
		return
	}
	exit(run(flag.Arg(0), log))
}

func exit(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing file: %v\n", err)
		os.Exit(1)
	}
}

func run(filename string, log *slog.Logger) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	rs := bufseekio.NewReadSeeker(f, 128*1024, 4)

	fmt.Printf("Parsing %s\n", filename)

	buf, err := qtparse.LoadMetadata(rs)
	if err != nil {
		return err
	}
	log.Debug("loaded metadata", "bytes", len(buf))

	r := qtparse.NewReader(buf)
	r.Strict = *strictFlag
	var atoms []*qtparse.Atom
	for a, err := range r.All() {
		if err != nil {
			return err
		}
		log.Debug("top-level atom", "type", a.Type, "size", a.Size, "qt", a.QT)
		atoms = append(atoms, a)
	}

	if *atomsFlag {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return err
		}
		tree, err := qtparse.FormatStream(rs)
		if err != nil {
			return err
		}
		fmt.Print(tree)
	}

	tracks, err := qtparse.Tracks(atoms)
	if err != nil {
		return err
	}
	fmt.Printf("There are %d tracks in the file\n", len(tracks))
	for _, t := range tracks {
		fmt.Printf("%d: %s\n", t.Index, describe(t))
	}

	m, err := qtparse.Extract(atoms)
	if err != nil {
		return err
	}
	if err := printSummary(os.Stdout, m); err != nil {
		return err
	}

	if *verifyFlag {
		ref, err := crosscheck.Extract(rs)
		if err != nil {
			return fmt.Errorf("go-mp4: %w", err)
		}
		for _, kind := range ref.Unrecognized {
			log.Debug("go-mp4 skipped track kind", "kind", kind)
		}
		if err := ref.Compare(m); err != nil {
			return err
		}
		log.Debug("go-mp4 extraction agrees")
		fmt.Println("Verified with go-mp4")
	}
	return nil
}

func describe(t qtparse.TrackInfo) string {
	s := fmt.Sprintf("type=%s", t.Handler)
	if t.Handler == (qtparse.AtomType{}) {
		s = "type=none"
	}
	if t.Sample != nil {
		s += " format=" + t.Sample.Format.String()
	}
	switch {
	case t.Sample != nil && t.Sample.Video != nil:
		v := t.Sample.Video
		s += fmt.Sprintf(" width=%d height=%d codec=%s", v.Width, v.Height, v.Codec)
	case t.Sample != nil && t.Sample.Sound != nil:
		a := t.Sample.Sound
		s += fmt.Sprintf(" sample_rate=%d channels=%d codec=%s", a.SampleRate, a.ChannelCount, a.Codec)
	case t.Kind == qtparse.MediaVideo && t.Header != nil:
		s += fmt.Sprintf(" display=%dx%d", t.Header.PixelWidth(), t.Header.PixelHeight())
	}
	if d := t.Duration(); d > 0 {
		s += fmt.Sprintf(" duration=%.2fs", d)
	}
	if st := t.Table; st != nil && st.SampleCount > 0 {
		s += fmt.Sprintf(" samples=%d chunks=%d", st.SampleCount, st.ChunkCount)
	}
	return s
}

func printSummary(w io.Writer, m qtparse.Metadata) error {
	if *jsonFlag {
		enc := json.NewEncoder(w)
		return enc.Encode(m.Summary())
	}
	if width, height, ok := m.Dimensions(); ok {
		fmt.Fprintf(w, "Video: %dx%d\n", width, height)
	} else {
		fmt.Fprintln(w, "Video: none")
	}
	if rate, ok := m.SampleRate(); ok {
		fmt.Fprintf(w, "Audio: %d Hz\n", rate)
	} else {
		fmt.Fprintln(w, "Audio: none")
	}
	return nil
}
