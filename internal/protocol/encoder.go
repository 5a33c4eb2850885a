package protocol

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
)

// IDLength is the length of a command correlation id.
const IDLength = 4

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Random bytes at or above idByteLimit are skipped so every id character is
// equally likely.
const idByteLimit = 256 - 256%len(idAlphabet)

// Command is one outbound request.
type Command struct {
	ID     string `json:"i"`
	Method Method `json:"m"`
	Params any    `json:"p"`
}

// Encoder serializes commands and hands out random correlation ids.
type Encoder struct {
	random io.Reader
}

func NewEncoder() *Encoder {
	return &Encoder{random: rand.Reader}
}

// NewEncoderWithSource is used by tests that need deterministic ids.
func NewEncoderWithSource(r io.Reader) *Encoder {
	return &Encoder{random: r}
}

func (e *Encoder) NewID() (string, error) {
	var raw [IDLength]byte
	id := make([]byte, 0, IDLength)
	for len(id) < IDLength {
		need := raw[:IDLength-len(id)]
		if _, err := io.ReadFull(e.random, need); err != nil {
			return "", fmt.Errorf("generate command id: %w", err)
		}
		for _, b := range need {
			if int(b) >= idByteLimit {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
		}
	}

	return string(id), nil
}

// Encode builds a command under a fresh id and returns its wire bytes,
// delimiter included.
func (e *Encoder) Encode(method Method, params any) (Command, []byte, error) {
	id, err := e.NewID()
	if err != nil {
		return Command{}, nil, err
	}

	return EncodeWithID(id, method, params)
}

func EncodeWithID(id string, method Method, params any) (Command, []byte, error) {
	if method == "" {
		return Command{}, nil, fmt.Errorf("command method is empty")
	}
	if params == nil {
		params = struct{}{}
	}
	cmd := Command{ID: id, Method: method, Params: params}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, nil, fmt.Errorf("encode %s: %w", method, err)
	}

	return cmd, append(raw, Delimiter...), nil
}
