package verification

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const requestRecordVersionV1 = 1

func encodeRequest(r *Request) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(requestRecordVersionV1)
	buf.WriteByte(byte(r.Kind))
	if err := binary.Write(&buf, binary.BigEndian, r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	for _, field := range []string{r.ID, r.UserID, r.Target} {
		if len(field) > 0xffff {
			return nil, errors.New("verification record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	buf.Write(r.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeRequest(data []byte) (*Request, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != requestRecordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r := &Request{Kind: Kind(kind)}

	if err := binary.Read(reader, binary.BigEndian, &r.Attempts); err != nil {
		return nil, err
	}
	var expiresAt, createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	r.ExpiresAt = time.UnixMilli(expiresAt)
	r.CreatedAt = time.UnixMilli(createdAt)

	for _, field := range []*string{&r.ID, &r.UserID, &r.Target} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}
	if _, err := io.ReadFull(reader, r.CodeHash[:]); err != nil {
		return nil, err
	}
	return r, nil
}
