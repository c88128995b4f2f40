package pinject

import (
	"bytes"

	"gitlab.com/tozd/go/errors"
)

// WordTransport moves single machine words in and out of a process' memory.
// It is what ptrace PEEKDATA and POKEDATA requests provide.
type WordTransport interface {
	PeekWord(address uint64) (uint64, errors.E)
	PokeWord(address uint64, word uint64) errors.E
}

// Memory reads and writes arbitrary byte ranges of a process' memory over a
// word-granularity transport.
type Memory struct {
	Transport WordTransport
	Arch      *Arch
}

// Read reads length bytes starting at address.
func (m *Memory) Read(address uint64, length int) ([]byte, errors.E) {
	wordSize := m.Arch.WordSize
	data := make([]byte, length)
	word := make([]byte, wordSize)
	for offset := 0; offset < length; offset += wordSize {
		w, errE := m.Transport.PeekWord(address + uint64(offset)) //nolint:gosec
		if errE != nil {
			errors.Details(errE)["length"] = length
			return nil, errE
		}
		m.Arch.PutWord(word, w)
		// The last word might be copied only partially.
		copy(data[offset:], word)
	}
	return data, nil
}

// Write writes data starting at address.
//
// The last partial word is read first and only its low-order bytes are replaced so
// that bytes after the written range are preserved.
func (m *Memory) Write(address uint64, data []byte) errors.E {
	wordSize := m.Arch.WordSize
	full := len(data) / wordSize * wordSize
	for offset := 0; offset < full; offset += wordSize {
		errE := m.Transport.PokeWord(address+uint64(offset), m.Arch.Word(data[offset:])) //nolint:gosec
		if errE != nil {
			errors.Details(errE)["length"] = len(data)
			return errE
		}
	}

	remain := len(data) - full
	if remain == 0 {
		return nil
	}

	last := address + uint64(full) //nolint:gosec
	w, errE := m.Transport.PeekWord(last)
	if errE != nil {
		errors.Details(errE)["length"] = len(data)
		return errE
	}
	word := make([]byte, wordSize)
	m.Arch.PutWord(word, w)
	copy(word, data[full:])
	errE = m.Transport.PokeWord(last, m.Arch.Word(word))
	if errE != nil {
		errors.Details(errE)["length"] = len(data)
		return errE
	}
	return nil
}

// WriteString writes text followed by a null byte.
func (m *Memory) WriteString(address uint64, text string) errors.E {
	data := make([]byte, len(text)+1)
	copy(data, text)
	return m.Write(address, data)
}

// ReadString reads a null-terminated string of at most maxLength bytes
// (without the null byte). If no null byte is found, the first maxLength bytes are returned.
func (m *Memory) ReadString(address uint64, maxLength int) (string, errors.E) {
	wordSize := m.Arch.WordSize
	buf := make([]byte, 0, wordSize)
	word := make([]byte, wordSize)
	for offset := 0; len(buf) < maxLength; offset += wordSize {
		w, errE := m.Transport.PeekWord(address + uint64(offset)) //nolint:gosec
		if errE != nil {
			return "", errE
		}
		m.Arch.PutWord(word, w)
		if i := bytes.IndexByte(word, 0); i >= 0 {
			buf = append(buf, word[:i]...)
			break
		}
		buf = append(buf, word...)
	}
	if len(buf) > maxLength {
		buf = buf[:maxLength]
	}
	return string(buf), nil
}
