package learning

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

const sectionTag = "LERN"

func writeString(bw *bufio.Writer, s string, written *int64) error {
	b := []byte(s)
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(b))); err != nil {
		return err
	}
	*written += 2
	n, err := bw.Write(b)
	*written += int64(n)
	return err
}

func readString(br *bufio.Reader, read *int64) (string, error) {
	var l uint16
	if err := binary.Read(br, binary.LittleEndian, &l); err != nil {
		return "", err
	}
	*read += 2
	b := make([]byte, l)
	n, err := io.ReadFull(br, b)
	*read += int64(n)
	return string(b), err
}

func writeTopicState(bw *bufio.Writer, state *topicState, written *int64) error {
	if err := binary.Write(bw, binary.LittleEndian, int32(state.queryCount)); err != nil {
		return err
	}
	*written += 4
	for _, f := range []float64{state.weights.Vector, state.weights.Recency, state.weights.Frequency} {
		if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
			return err
		}
		*written += 8
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(state.interestEmbedding))); err != nil {
		return err
	}
	*written += 4
	for _, v := range state.interestEmbedding {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
		*written += 4
	}
	return nil
}

func readTopicState(br *bufio.Reader, read *int64) (*topicState, error) {
	var queryCount int32
	if err := binary.Read(br, binary.LittleEndian, &queryCount); err != nil {
		return nil, err
	}
	*read += 4

	var vec, rec, freq float64
	for _, dst := range []*float64{&vec, &rec, &freq} {
		if err := binary.Read(br, binary.LittleEndian, dst); err != nil {
			return nil, err
		}
		*read += 8
	}

	var embLen uint32
	if err := binary.Read(br, binary.LittleEndian, &embLen); err != nil {
		return nil, err
	}
	*read += 4
	embedding := make([]float32, embLen)
	for j := uint32(0); j < embLen; j++ {
		if err := binary.Read(br, binary.LittleEndian, &embedding[j]); err != nil {
			return nil, err
		}
		*read += 4
	}

	return &topicState{
		interestEmbedding: embedding,
		queryCount:        int(queryCount),
		weights:           libcore.RankingWeights{Vector: vec, Recency: rec, Frequency: freq},
	}, nil
}

// WriteTo serializes topic state and per-entry feedback as a tagged binary
// section. Interest embeddings are stored but the co-appearance matrix is
// rebuilt from future queries rather than persisted, since it is an
// optimization hint, not durable state the spec requires surviving a
// restart.
func (l *LearningEngine) WriteTo(w io.Writer) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var written int64

	n, err := bw.Write([]byte(sectionTag))
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("%w: writing section tag: %v", libcore.ErrIO, err)
	}

	if err := writeTopicState(bw, l.global, &written); err != nil {
		return written, fmt.Errorf("%w: writing global state: %v", libcore.ErrIO, err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(l.topics))); err != nil {
		return written, fmt.Errorf("%w: writing topic count: %v", libcore.ErrIO, err)
	}
	written += 4

	for topic, state := range l.topics {
		if err := writeString(bw, topic, &written); err != nil {
			return written, fmt.Errorf("%w: writing topic name: %v", libcore.ErrIO, err)
		}
		if err := writeTopicState(bw, state, &written); err != nil {
			return written, fmt.Errorf("%w: writing topic state: %v", libcore.ErrIO, err)
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(l.feedback))); err != nil {
		return written, fmt.Errorf("%w: writing feedback count: %v", libcore.ErrIO, err)
	}
	written += 4
	for id, fb := range l.feedback {
		if err := writeString(bw, id, &written); err != nil {
			return written, fmt.Errorf("%w: writing entry id: %v", libcore.ErrIO, err)
		}
		for _, v := range []int32{int32(fb.implicit), int32(fb.positive), int32(fb.negative)} {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return written, fmt.Errorf("%w: writing feedback count: %v", libcore.ErrIO, err)
			}
			written += 4
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("%w: flushing: %v", libcore.ErrIO, err)
	}
	return written, nil
}

// ReadFrom deserializes a LERN section written by WriteTo.
func (l *LearningEngine) ReadFrom(r io.Reader) (int64, error) {
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

	global, err := readTopicState(br, &read)
	if err != nil {
		return read, fmt.Errorf("%w: reading global state: %v", libcore.ErrCorrupt, err)
	}

	var topicCount uint32
	if err := binary.Read(br, binary.LittleEndian, &topicCount); err != nil {
		return read, fmt.Errorf("%w: reading topic count: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	topics := make(map[string]*topicState, topicCount)
	for i := uint32(0); i < topicCount; i++ {
		name, err := readString(br, &read)
		if err != nil {
			return read, fmt.Errorf("%w: reading topic name: %v", libcore.ErrCorrupt, err)
		}
		state, err := readTopicState(br, &read)
		if err != nil {
			return read, fmt.Errorf("%w: reading topic state: %v", libcore.ErrCorrupt, err)
		}
		topics[name] = state
	}

	var feedbackCount uint32
	if err := binary.Read(br, binary.LittleEndian, &feedbackCount); err != nil {
		return read, fmt.Errorf("%w: reading feedback count: %v", libcore.ErrCorrupt, err)
	}
	read += 4

	feedback := make(map[string]*entryFeedback, feedbackCount)
	for i := uint32(0); i < feedbackCount; i++ {
		id, err := readString(br, &read)
		if err != nil {
			return read, fmt.Errorf("%w: reading entry id: %v", libcore.ErrCorrupt, err)
		}
		var implicit, positive, negative int32
		for _, dst := range []*int32{&implicit, &positive, &negative} {
			if err := binary.Read(br, binary.LittleEndian, dst); err != nil {
				return read, fmt.Errorf("%w: reading feedback count: %v", libcore.ErrCorrupt, err)
			}
			read += 4
		}
		feedback[id] = &entryFeedback{implicit: int(implicit), positive: int(positive), negative: int(negative)}
	}

	l.mu.Lock()
	l.global = global
	l.topics = topics
	l.feedback = feedback
	l.coAppearance = make(map[string]map[string]int)
	l.mu.Unlock()

	return read, nil
}
