package record

// Iterator is a lazy, forward-only decoder over a batch's payload (spec
// §4.1). It never copies bytes: each RetainedMessage it yields points into
// the same backing array as the batch, so the iterator is only valid as
// long as the batch it was built from stays alive.
//
// Decode errors terminate iteration immediately with no partial record
// surfaced (spec §4.1 "Errors at any step terminate the iteration"); Err
// reports the reason once Next returns false, distinguishing a genuine
// end-of-batch from a corruption abort (spec §9 fallible-iterator note).
type Iterator struct {
	batch   *RetainedMessageBatch
	cursor  uint32
	current *RetainedMessage
	err     error
	done    bool
}

// NewIterator returns an iterator over batch's payload.
func NewIterator(batch *RetainedMessageBatch) *Iterator {
	return &Iterator{batch: batch}
}

// Next advances to the next record, returning false when iteration has
// finished (either exhausted or aborted on error — check Err to tell them
// apart).
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	payload := it.batch.Payload
	if it.cursor >= uint32(len(payload)) {
		it.done = true
		return false
	}

	if it.cursor+4 > uint32(len(payload)) {
		it.fail(ErrTruncatedRecord)
		return false
	}
	recLen := leUint32(payload[it.cursor : it.cursor+4])
	start := it.cursor + 4
	end := start + recLen
	if end > uint32(len(payload)) || end < start {
		it.fail(ErrTruncatedRecord)
		return false
	}

	msg, err := Decode(payload[start:end])
	if err != nil {
		it.fail(err)
		return false
	}

	it.current = msg
	it.cursor = end
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.done = true
	it.current = nil
}

// Message returns the record produced by the most recent successful Next.
func (it *Iterator) Message() *RetainedMessage {
	return it.current
}

// Err returns the error that stopped iteration, or nil if iteration ran to
// the natural end of the batch.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the iterator into a slice. It returns whatever error
// stopped iteration (nil on a clean end-of-batch).
func (it *Iterator) Collect() ([]*RetainedMessage, error) {
	var out []*RetainedMessage
	for it.Next() {
		out = append(out, it.Message())
	}
	return out, it.Err()
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
