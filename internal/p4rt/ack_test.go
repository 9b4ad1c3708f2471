package p4rt

import (
	"errors"
	"sync"
	"testing"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/stream"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*p4v1.StreamMessageRequest
	err  error
}

func (s *recordingSender) Send(req *p4v1.StreamMessageRequest) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func TestAckDigest(t *testing.T) {
	sender := &recordingSender{}
	require.NoError(t, AckDigest(sender, &stream.DigestList{DigestID: 401, ListID: 17}))
	require.NoError(t, AckDigest(sender, &stream.DigestList{DigestID: 401, ListID: 18}))

	require.Len(t, sender.sent, 2)
	ack := sender.sent[0].GetDigestAck()
	require.NotNil(t, ack)
	assert.Equal(t, uint32(401), ack.GetDigestId())
	assert.Equal(t, uint64(17), ack.GetListId())
	assert.Equal(t, uint64(18), sender.sent[1].GetDigestAck().GetListId())
}

func TestAckDigestErrors(t *testing.T) {
	assert.ErrorIs(t, AckDigest(nil, &stream.DigestList{}), errspkg.ErrSenderRequired)
	assert.ErrorIs(t, AckDigest(&recordingSender{}, nil), errspkg.ErrDigestRequired)

	broken := errors.New("stream reset")
	err := AckDigest(&recordingSender{err: broken}, &stream.DigestList{DigestID: 1, ListID: 2})
	assert.ErrorIs(t, err, broken)
	assert.ErrorContains(t, err, "ack digest 1 list 2")
}
