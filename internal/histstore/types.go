package histstore

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBMessage is the persisted form of one chat message. Keyed by the
// server-assigned microsecond timestamp so a bucket cursor walks
// messages in server order.
type DBMessage struct {
	ClientSideID string `msgpack:"clientSideId"`
	ServerSideID string `msgpack:"serverSideId"`
	Kind         string `msgpack:"kind"`
	Text         string `msgpack:"text"`
	SenderName   string `msgpack:"senderName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	OperatorID   string `msgpack:"operatorId"`
	TimeMicros   int64  `msgpack:"tsMicros"`
	Edited       bool   `msgpack:"edited"`
	Reaction     string `msgpack:"reaction"`
	// Data holds the raw JSON payload (file, keyboard, sticker) so the
	// polymorphic part round-trips without a parallel schema.
	Data  []byte `msgpack:"data"`
	Quote []byte `msgpack:"quote"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.TimeMicros))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
