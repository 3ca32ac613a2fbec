package capture

import "time"

// PacketStore persists packets. *db.DB satisfies it.
type PacketStore interface {
	RecordPacket(sessionID string, seq uint64, data []byte, receivedAt time.Time) error
}

// StoreSink records each packet in a PacketStore under the record's session.
type StoreSink struct {
	Store PacketStore
}

func (s StoreSink) Name() string { return "store" }

func (s StoreSink) WritePacket(r Record) error {
	return s.Store.RecordPacket(r.Session, r.Seq, r.Data, r.Time)
}

// Close leaves the store open; its owner closes it.
func (s StoreSink) Close() error { return nil }
