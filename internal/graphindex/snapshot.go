package graphindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

const sectionTag = "GRPH"

// WriteTo serializes every directed edge as a tagged binary section:
//
//	tag    [4]byte "GRPH"
//	count  uint32  little-endian
//	edges  count * { fromLen uint16, from []byte, toLen uint16, to []byte,
//	                 typeLen uint16, type []byte, originLen uint16, origin []byte }
//
// Both directions of a symmetric/auto-inverse pair are stored explicitly;
// ReadFrom reinserts each stored edge directly, without AddEdge's
// inverse-creation logic, so the restored graph holds exactly the stored
// edges.
func (g *GraphIndex) WriteTo(w io.Writer) (int64, error) {
	edges := g.Edges()

	bw := bufio.NewWriter(w)
	var written int64

	n, err := bw.Write([]byte(sectionTag))
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing section tag: %v", libcore.ErrIO, err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(edges))); err != nil {
		return written, fmt.Errorf("%w: writing count: %v", libcore.ErrIO, err)
	}
	written += 4

	for _, e := range edges {
		for _, s := range []string{e.From, e.To, string(e.Type), string(e.Origin)} {
			b := []byte(s)
			if err := binary.Write(bw, binary.LittleEndian, uint16(len(b))); err != nil {
				return written, fmt.Errorf("%w: writing field length: %v", libcore.ErrIO, err)
			}
			written += 2
			n, err := bw.Write(b)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("%w: writing field: %v", libcore.ErrIO, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("%w: flushing: %v", libcore.ErrIO, err)
	}
	return written, nil
}

// ReadFrom deserializes a GRPH section written by WriteTo, replacing the
// graph's current contents.
func (g *GraphIndex) ReadFrom(r io.Reader) (int64, error) {
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

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return read, fmt.Errorf("%w: reading count: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	fresh := New()
	for i := uint32(0); i < count; i++ {
		fields := make([]string, 4)
		for j := 0; j < 4; j++ {
			var l uint16
			if err := binary.Read(br, binary.LittleEndian, &l); err != nil {
				return read, fmt.Errorf("%w: reading field length: %v", libcore.ErrCorrupt, err)
			}
			read += 2
			b := make([]byte, l)
			n, err := io.ReadFull(br, b)
			read += int64(n)
			if err != nil {
				return read, fmt.Errorf("%w: reading field: %v", libcore.ErrCorrupt, err)
			}
			fields[j] = string(b)
		}
		fresh.nodes[fields[0]] = true
		fresh.nodes[fields[1]] = true
		fresh.insertDirected(fields[0], fields[1], libcore.EdgeType(fields[2]), libcore.EdgeOrigin(fields[3]))
	}

	g.mu.Lock()
	g.nodes = fresh.nodes
	g.edges = fresh.edges
	g.mu.Unlock()

	return read, nil
}
