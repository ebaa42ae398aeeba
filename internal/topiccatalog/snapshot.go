package topiccatalog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

const sectionTag = "CATL"

// WriteTo serializes every topic node as a tagged binary section:
//
//	tag    [4]byte "CATL"
//	count  uint32  little-endian
//	nodes  count * { pathLen uint16, path []byte, parentLen uint16, parent []byte,
//	                 aliasCount uint16, aliases * { len uint16, bytes },
//	                 volumeCount uint16, volumes * { len uint16, bytes } }
//	aliasRedirects count uint32, redirects * { sourceLen uint16, source []byte,
//	                 targetLen uint16, target []byte }
//
// Children are not stored directly; they're rebuilt from Parent on load.
// volumeTopic is not stored directly; it's rebuilt from each node's Volumes.
func (c *TopicCatalog) WriteTo(w io.Writer) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64

	n, err := bw.Write([]byte(sectionTag))
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing section tag: %v", libcore.ErrIO, err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(c.nodes))); err != nil {
		return written, fmt.Errorf("%w: writing count: %v", libcore.ErrIO, err)
	}
	written += 4

	for _, node := range c.nodes {
		for _, s := range []string{node.Path, node.Parent} {
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

		if err := binary.Write(bw, binary.LittleEndian, uint16(len(node.Aliases))); err != nil {
			return written, fmt.Errorf("%w: writing alias count: %v", libcore.ErrIO, err)
		}
		written += 2
		for _, alias := range node.Aliases {
			b := []byte(alias)
			if err := binary.Write(bw, binary.LittleEndian, uint16(len(b))); err != nil {
				return written, fmt.Errorf("%w: writing alias length: %v", libcore.ErrIO, err)
			}
			written += 2
			n, err := bw.Write(b)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("%w: writing alias: %v", libcore.ErrIO, err)
			}
		}

		if err := binary.Write(bw, binary.LittleEndian, uint16(len(node.Volumes))); err != nil {
			return written, fmt.Errorf("%w: writing volume count: %v", libcore.ErrIO, err)
		}
		written += 2
		for _, volumeID := range node.Volumes {
			b := []byte(volumeID)
			if err := binary.Write(bw, binary.LittleEndian, uint16(len(b))); err != nil {
				return written, fmt.Errorf("%w: writing volume id length: %v", libcore.ErrIO, err)
			}
			written += 2
			n, err := bw.Write(b)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("%w: writing volume id: %v", libcore.ErrIO, err)
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(c.fullAlias))); err != nil {
		return written, fmt.Errorf("%w: writing alias redirect count: %v", libcore.ErrIO, err)
	}
	written += 4
	for source, target := range c.fullAlias {
		for _, s := range []string{source, target} {
			b := []byte(s)
			if err := binary.Write(bw, binary.LittleEndian, uint16(len(b))); err != nil {
				return written, fmt.Errorf("%w: writing redirect field length: %v", libcore.ErrIO, err)
			}
			written += 2
			n, err := bw.Write(b)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("%w: writing redirect field: %v", libcore.ErrIO, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("%w: flushing: %v", libcore.ErrIO, err)
	}
	return written, nil
}

// ReadFrom deserializes a CATL section written by WriteTo, replacing the
// catalog's current contents.
func (c *TopicCatalog) ReadFrom(r io.Reader) (int64, error) {
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

	readString := func() (string, error) {
		var l uint16
		if err := binary.Read(br, binary.LittleEndian, &l); err != nil {
			return "", err
		}
		read += 2
		b := make([]byte, l)
		n, err := io.ReadFull(br, b)
		read += int64(n)
		return string(b), err
	}

	nodes := make(map[string]*libcore.TopicNode, count)
	childNames := make(map[string][]string)

	for i := uint32(0); i < count; i++ {
		path, err := readString()
		if err != nil {
			return read, fmt.Errorf("%w: reading path: %v", libcore.ErrCorrupt, err)
		}
		parent, err := readString()
		if err != nil {
			return read, fmt.Errorf("%w: reading parent: %v", libcore.ErrCorrupt, err)
		}

		var aliasCount uint16
		if err := binary.Read(br, binary.LittleEndian, &aliasCount); err != nil {
			return read, fmt.Errorf("%w: reading alias count: %v", libcore.ErrCorrupt, err)
		}
		read += 2

		aliases := make([]string, 0, aliasCount)
		for j := uint16(0); j < aliasCount; j++ {
			alias, err := readString()
			if err != nil {
				return read, fmt.Errorf("%w: reading alias: %v", libcore.ErrCorrupt, err)
			}
			aliases = append(aliases, alias)
		}

		var volumeCount uint16
		if err := binary.Read(br, binary.LittleEndian, &volumeCount); err != nil {
			return read, fmt.Errorf("%w: reading volume count: %v", libcore.ErrCorrupt, err)
		}
		read += 2

		volumes := make([]string, 0, volumeCount)
		for j := uint16(0); j < volumeCount; j++ {
			volumeID, err := readString()
			if err != nil {
				return read, fmt.Errorf("%w: reading volume id: %v", libcore.ErrCorrupt, err)
			}
			volumes = append(volumes, volumeID)
		}

		name := path
		if idx := lastSlash(path); idx >= 0 {
			name = path[idx+1:]
		}

		nodes[path] = &libcore.TopicNode{
			Name:    name,
			Path:    path,
			Parent:  parent,
			Aliases: aliases,
			Volumes: volumes,
		}
		childNames[parent] = append(childNames[parent], name)
	}

	var redirectCount uint32
	if err := binary.Read(br, binary.LittleEndian, &redirectCount); err != nil {
		return read, fmt.Errorf("%w: reading alias redirect count: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	fullAlias := make(map[string]string, redirectCount)
	for i := uint32(0); i < redirectCount; i++ {
		source, err := readString()
		if err != nil {
			return read, fmt.Errorf("%w: reading redirect source: %v", libcore.ErrCorrupt, err)
		}
		target, err := readString()
		if err != nil {
			return read, fmt.Errorf("%w: reading redirect target: %v", libcore.ErrCorrupt, err)
		}
		fullAlias[source] = target
	}

	for path, node := range nodes {
		if parentNode, ok := nodes[node.Parent]; ok {
			parentNode.Children = append(parentNode.Children, path)
		}
	}

	volumeTopic := make(map[string]string)
	for path, node := range nodes {
		for _, volumeID := range node.Volumes {
			volumeTopic[volumeID] = path
		}
	}

	c.mu.Lock()
	c.nodes = nodes
	c.childNames = childNames
	c.volumeTopic = volumeTopic
	c.fullAlias = fullAlias
	c.mu.Unlock()

	return read, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
