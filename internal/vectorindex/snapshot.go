package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

// sectionTag is the 4-byte ASCII tag written at the start of a VECS
// section, letting StorageBackend concatenate multiple tagged sections
// (VECS/CATL/GRPH/LERN) in one snapshot file.
const sectionTag = "VECS"

// WriteTo serializes the index as a tagged binary section, one entry per
// volume in full per spec.md §4.1:
//
//	tag        [4]byte  "VECS"
//	dim        uint32   little-endian
//	count      uint32   little-endian
//	entries    count * {
//	  idLen       uint16, id []byte
//	  textLen     uint32, text []byte
//	  metaCount   uint16
//	  metaCount * { keyLen uint16, key []byte, valLen uint16, val []byte }
//	  createdAt   int64  (unix nanoseconds)
//	  accessCount int64
//	  lastAccess  int64  (unix nanoseconds)
//	  dim * float32 (little-endian)
//	}
func (v *VectorIndex) WriteTo(w io.Writer) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64

	n, err := bw.Write([]byte(sectionTag))
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing section tag: %v", libcore.ErrIO, err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(v.dimension)); err != nil {
		return written, fmt.Errorf("%w: writing dimension: %v", libcore.ErrIO, err)
	}
	written += 4

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(v.order))); err != nil {
		return written, fmt.Errorf("%w: writing count: %v", libcore.ErrIO, err)
	}
	written += 4

	for _, id := range v.order {
		vol := v.volumes[id]

		if err := writeString16(bw, id); err != nil {
			return written, err
		}
		written += 2 + int64(len(id))

		textBytes := []byte(vol.Text)
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(textBytes))); err != nil {
			return written, fmt.Errorf("%w: writing text length: %v", libcore.ErrIO, err)
		}
		written += 4
		n, err := bw.Write(textBytes)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("%w: writing text: %v", libcore.ErrIO, err)
		}

		keys := make([]string, 0, len(vol.Metadata))
		for k := range vol.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(keys))); err != nil {
			return written, fmt.Errorf("%w: writing metadata count: %v", libcore.ErrIO, err)
		}
		written += 2
		for _, k := range keys {
			if err := writeString16(bw, k); err != nil {
				return written, err
			}
			written += 2 + int64(len(k))
			if err := writeString16(bw, vol.Metadata[k]); err != nil {
				return written, err
			}
			written += 2 + int64(len(vol.Metadata[k]))
		}

		if err := binary.Write(bw, binary.LittleEndian, vol.CreatedAt.UnixNano()); err != nil {
			return written, fmt.Errorf("%w: writing created-at: %v", libcore.ErrIO, err)
		}
		written += 8
		if err := binary.Write(bw, binary.LittleEndian, int64(vol.AccessCount)); err != nil {
			return written, fmt.Errorf("%w: writing access count: %v", libcore.ErrIO, err)
		}
		written += 8
		if err := binary.Write(bw, binary.LittleEndian, vol.LastAccessedAt.UnixNano()); err != nil {
			return written, fmt.Errorf("%w: writing last-accessed: %v", libcore.ErrIO, err)
		}
		written += 8

		for _, f := range vol.Embedding {
			if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
				return written, fmt.Errorf("%w: writing vector component: %v", libcore.ErrIO, err)
			}
			written += 4
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("%w: flushing: %v", libcore.ErrIO, err)
	}
	return written, nil
}

func writeString16(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, binary.LittleEndian, uint16(len(b))); err != nil {
		return fmt.Errorf("%w: writing string length: %v", libcore.ErrIO, err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: writing string: %v", libcore.ErrIO, err)
	}
	return nil
}

func readString16(r io.Reader) (string, int64, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", 0, fmt.Errorf("%w: reading string length: %v", libcore.ErrCorrupt, err)
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil {
		return "", 2 + int64(read), fmt.Errorf("%w: reading string: %v", libcore.ErrCorrupt, err)
	}
	return string(buf), 2 + int64(read), nil
}

// ReadFrom deserializes a VECS section written by WriteTo, replacing the
// index's current contents.
func (v *VectorIndex) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var read int64

	tag := make([]byte, 4)
	n, err := io.ReadFull(br, tag)
	read += int64(n)
	if err != nil {
		return read, fmt.Errorf("%w: reading section tag: %v", libcore.ErrCorrupt, err)
	}
	if string(tag) != sectionTag {
		return read, fmt.Errorf("%w: bad section tag %q, want %q", libcore.ErrCorrupt, tag, sectionTag)
	}

	var dim uint32
	if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
		return read, fmt.Errorf("%w: reading dimension: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return read, fmt.Errorf("%w: reading count: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	volumes := make(map[string]libcore.Volume, count)
	order := make([]string, 0, count)

	for i := uint32(0); i < count; i++ {
		id, n, err := readString16(br)
		read += n
		if err != nil {
			return read, err
		}

		var textLen uint32
		if err := binary.Read(br, binary.LittleEndian, &textLen); err != nil {
			return read, fmt.Errorf("%w: reading text length: %v", libcore.ErrCorrupt, err)
		}
		read += 4
		textBytes := make([]byte, textLen)
		nr, err := io.ReadFull(br, textBytes)
		read += int64(nr)
		if err != nil {
			return read, fmt.Errorf("%w: reading text: %v", libcore.ErrCorrupt, err)
		}

		var metaCount uint16
		if err := binary.Read(br, binary.LittleEndian, &metaCount); err != nil {
			return read, fmt.Errorf("%w: reading metadata count: %v", libcore.ErrCorrupt, err)
		}
		read += 2
		var metadata map[string]string
		if metaCount > 0 {
			metadata = make(map[string]string, metaCount)
		}
		for j := uint16(0); j < metaCount; j++ {
			key, n, err := readString16(br)
			read += n
			if err != nil {
				return read, err
			}
			val, n, err := readString16(br)
			read += n
			if err != nil {
				return read, err
			}
			metadata[key] = val
		}

		var createdAtNano int64
		if err := binary.Read(br, binary.LittleEndian, &createdAtNano); err != nil {
			return read, fmt.Errorf("%w: reading created-at: %v", libcore.ErrCorrupt, err)
		}
		read += 8
		var accessCount int64
		if err := binary.Read(br, binary.LittleEndian, &accessCount); err != nil {
			return read, fmt.Errorf("%w: reading access count: %v", libcore.ErrCorrupt, err)
		}
		read += 8
		var lastAccessNano int64
		if err := binary.Read(br, binary.LittleEndian, &lastAccessNano); err != nil {
			return read, fmt.Errorf("%w: reading last-accessed: %v", libcore.ErrCorrupt, err)
		}
		read += 8

		vec := make([]float32, dim)
		for j := uint32(0); j < dim; j++ {
			if err := binary.Read(br, binary.LittleEndian, &vec[j]); err != nil {
				return read, fmt.Errorf("%w: reading vector component: %v", libcore.ErrCorrupt, err)
			}
			read += 4
		}

		vol := libcore.Volume{
			ID:        id,
			Text:      string(textBytes),
			Embedding: vec,
			Metadata:  metadata,
			AccessCount: int(accessCount),
		}
		if createdAtNano != 0 {
			vol.CreatedAt = time.Unix(0, createdAtNano).UTC()
		}
		if lastAccessNano != 0 {
			vol.LastAccessedAt = time.Unix(0, lastAccessNano).UTC()
		}
		if topic, ok := metadata["topic"]; ok {
			vol.Topic = topic
		}

		volumes[id] = vol
		order = append(order, id)
	}

	v.mu.Lock()
	v.dimension = int(dim)
	v.volumes = volumes
	v.order = order
	v.mu.Unlock()

	return read, nil
}
