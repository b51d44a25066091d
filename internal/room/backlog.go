package room

import "arenachat/internal/models"

// backlog is a fixed-size ring of the room's most recent messages, indexed
// by message id for edit/reaction/pin lookups. Sequences inside the ring
// are contiguous, so positions are computed, not searched.
//
// It is owned by the room actor goroutine and needs no locking.
type backlog struct {
	records  []*models.Message
	byID     map[string]*models.Message
	firstSeq int64
	lastSeq  int64
	lastIdx  int
	max      int
}

func newBacklog(max int) *backlog {
	return &backlog{
		byID:    make(map[string]*models.Message),
		lastIdx: -1,
		max:     max,
	}
}

// add appends a message whose sequence was just assigned. When full, the
// oldest message falls out of the retained window and stops being
// addressable for mutation.
func (b *backlog) add(m *models.Message) {
	switch {
	case len(b.records) < b.max:
		if b.firstSeq == 0 {
			b.firstSeq = m.Seq
		}
		b.records = append(b.records, m)
		b.lastIdx++
	default:
		i := (b.lastIdx + 1) % b.max
		delete(b.byID, b.records[i].ID)
		b.firstSeq++
		b.records[i] = m
		b.lastIdx = i
	}
	b.lastSeq = m.Seq
	b.byID[m.ID] = m
}

// seed loads messages recovered from the store, ascending by sequence.
func (b *backlog) seed(msgs []models.Message) {
	for i := range msgs {
		m := msgs[i]
		b.add(&m)
	}
}

func (b *backlog) get(id string) (*models.Message, bool) {
	m, ok := b.byID[id]
	return m, ok
}

// since returns copies of all retained messages with seq > from, in
// sequence order, and whether older messages exist that the ring no
// longer retains (the client's gap exceeded the backlog window).
func (b *backlog) since(from int64) ([]models.Message, bool) {
	if len(b.records) == 0 {
		return nil, b.lastSeq > from
	}

	truncated := from+1 < b.firstSeq
	start := from + 1
	if start < b.firstSeq {
		start = b.firstSeq
	}
	if start > b.lastSeq {
		return nil, truncated
	}

	head := 0
	if len(b.records) == b.max {
		head = (b.lastIdx + 1) % b.max
	}
	offset := int(start - b.firstSeq)
	count := int(b.lastSeq - start + 1)

	out := make([]models.Message, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, *b.records[(head+offset+i)%len(b.records)])
	}
	return out, truncated
}
