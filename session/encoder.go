package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const sessionFormatVersionCurrent = 1

const (
	flagTwoFactorVerified byte = 1 << iota
	flagEmailVerified
	flagRememberMe
)

// Encode serializes a session into the compact binary form stored in Redis.
// The ID is not part of the payload; it is the Redis key.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	for _, field := range []string{s.UserID, s.Email, s.IPAddress, s.UserAgent} {
		if len(field) > 0xffff {
			return nil, errors.New("session field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	var flags byte
	if s.TwoFactorVerified {
		flags |= flagTwoFactorVerified
	}
	if s.EmailVerified {
		flags |= flagEmailVerified
	}
	if s.RememberMe {
		flags |= flagRememberMe
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	for _, field := range []*string{&s.UserID, &s.Email, &s.IPAddress, &s.UserAgent} {
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

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.TwoFactorVerified = flags&flagTwoFactorVerified != 0
	s.EmailVerified = flags&flagEmailVerified != 0
	s.RememberMe = flags&flagRememberMe != 0

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.ExpiresAt = time.UnixMilli(expiresAt)

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}
	return s, nil
}
