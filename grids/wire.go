package grids

import "github.com/notargets/pargrid/comm"

// Wire records exchanged during diffusion rounds. All fields are fixed
// width; see the codec helpers in package comm.

// neighSend carries the 26-neighbor owner ranks of one reassigned cell so
// the receiving rank can complete its partition vector around it.
type neighSend struct {
	basecell   GlobalIndex
	neighranks [26]Rank
}

// encodeAssignments packs the complete per-neighbor reassignment lists with
// the target rank piggybacked onto each list. Every neighbor receives the
// same payload, which propagates reassignments across freshly created
// neighborhood edges.
func encodeAssignments(toSend [][]GlobalIndex, targets []Rank) []byte {
	b := comm.AppendInt32(nil, int32(len(toSend)))
	for i, cells := range toSend {
		b = comm.AppendInt32(b, int32(len(cells)+1))
		for _, c := range cells {
			b = comm.AppendInt32(b, int32(c))
		}
		b = comm.AppendInt32(b, int32(targets[i]))
	}
	return b
}

// decodeAssignments unpacks reassignment lists, splitting off the
// piggybacked target rank again.
func decodeAssignments(payload []byte) (lists [][]GlobalIndex, targets []Rank) {
	n := int(comm.Int32At(payload, 0))
	off := 4
	lists = make([][]GlobalIndex, n)
	targets = make([]Rank, n)
	for i := 0; i < n; i++ {
		var raw []int32
		raw, off = comm.Int32sAt(payload, off)
		Ensure(len(raw) >= 1, "reassignment list without target rank")
		targets[i] = Rank(raw[len(raw)-1])
		cells := make([]GlobalIndex, len(raw)-1)
		for j, c := range raw[:len(raw)-1] {
			cells[j] = GlobalIndex(c)
		}
		lists[i] = cells
	}
	return lists, targets
}

func encodeNeighborhoods(records []neighSend) []byte {
	b := comm.AppendInt32(nil, int32(len(records)))
	for _, rec := range records {
		b = comm.AppendInt32(b, int32(rec.basecell))
		for _, r := range rec.neighranks {
			b = comm.AppendInt32(b, int32(r))
		}
	}
	return b
}

func decodeNeighborhoods(payload []byte) []neighSend {
	n := int(comm.Int32At(payload, 0))
	off := 4
	records := make([]neighSend, n)
	for i := range records {
		records[i].basecell = GlobalIndex(comm.Int32At(payload, off))
		off += 4
		for k := 0; k < 26; k++ {
			records[i].neighranks[k] = Rank(comm.Int32At(payload, off))
			off += 4
		}
	}
	return records
}
