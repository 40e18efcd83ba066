package qtparse

import "fmt"

// TimeToSample is one stts entry: Count consecutive samples lasting Delta
// media time units each.
type TimeToSample struct {
	Count uint32
	Delta uint32
}

// TimeToSampleIter iterates over the entries of an stts payload.
type TimeToSampleIter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewTimeToSampleIter creates an iterator over an stts payload. It fails if
// the declared entries do not fit the payload.
func NewTimeToSampleIter(payload []byte) (TimeToSampleIter, error) {
	count, err := tableCount("stts", payload, 8)
	if err != nil {
		return TimeToSampleIter{}, err
	}
	return TimeToSampleIter{buf: payload, count: count}, nil
}

// Count returns the number of entries.
func (it *TimeToSampleIter) Count() uint32 { return it.count }

// Next returns the next entry. Returns false when done.
func (it *TimeToSampleIter) Next() (TimeToSample, bool) {
	if it.index >= it.count {
		return TimeToSample{}, false
	}
	off := 8 + int(it.index)*8
	e := TimeToSample{
		Count: be.Uint32(it.buf[off:]),
		Delta: be.Uint32(it.buf[off+4:]),
	}
	it.index++
	return e, true
}

// tableCount reads the entry count of a full atom table payload
// (vf(4)+count(4)+entries) and checks that count entries of entrySize bytes
// follow it.
func tableCount(name string, payload []byte, entrySize int) (uint32, error) {
	if len(payload) < 8 {
		return 0, truncated(name, 8, len(payload))
	}
	count := be.Uint32(payload[4:8])
	if need := 8 + uint64(count)*uint64(entrySize); need > uint64(len(payload)) {
		return 0, fmt.Errorf("%w: %s declares %d entries, needs %d bytes, have %d", ErrTruncated, name, count, need, len(payload))
	}
	return count, nil
}

// SampleTable summarizes the stbl atom of a track.
type SampleTable struct {
	SampleCount uint32 // from stsz
	ChunkCount  uint32 // from stco or co64
	// SyncSamples is the number of stss entries. It is 0, with HasSync
	// false, when the track has no stss and every sample is a sync sample.
	SyncSamples uint32
	HasSync     bool
	Duration    uint64 // sum of stts deltas in media time scale units
}

// DecodeSampleTable summarizes the children of an stbl atom. Missing tables
// leave their fields zero; malformed ones fail.
func DecodeSampleTable(stbl *Atom) (SampleTable, error) {
	var st SampleTable
	for _, a := range stbl.Children {
		p := a.Payload()
		var err error
		switch a.Type {
		case TypeStsz:
			// vf(4)+sampleSize(4)+count(4)+sizes when sampleSize is 0
			if len(p) < 12 {
				err = truncated("stsz", 12, len(p))
				break
			}
			st.SampleCount = be.Uint32(p[8:12])
			if be.Uint32(p[4:8]) == 0 && 12+uint64(st.SampleCount)*4 > uint64(len(p)) {
				err = fmt.Errorf("%w: stsz declares %d sizes with %d bytes", ErrTruncated, st.SampleCount, len(p))
			}
		case TypeStco:
			st.ChunkCount, err = tableCount("stco", p, 4)
		case TypeCo64:
			st.ChunkCount, err = tableCount("co64", p, 8)
		case TypeStss:
			st.SyncSamples, err = tableCount("stss", p, 4)
			st.HasSync = err == nil
		case TypeStts:
			var it TimeToSampleIter
			it, err = NewTimeToSampleIter(p)
			for e, ok := it.Next(); ok; e, ok = it.Next() {
				st.Duration += uint64(e.Count) * uint64(e.Delta)
			}
		}
		if err != nil {
			return SampleTable{}, atomErr(a.Type, a.Offset, err)
		}
	}
	return st, nil
}
