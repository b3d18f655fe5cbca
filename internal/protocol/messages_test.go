package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
)

func TestReplyCarriesRequestID(t *testing.T) {
	req := MustNew(TypeGetViewportSize, "s1", nil)
	req.RequestID = "r-1"

	reply, err := Reply(req, ViewportSize{Width: 2560, Height: 1440, DevicePixelRatio: 2})
	require.NoError(t, err)
	assert.Equal(t, TypeReply, reply.Type)
	assert.Equal(t, "r-1", reply.RequestID)
	assert.Equal(t, "s1", reply.SessionID)

	var size ViewportSize
	require.NoError(t, reply.Decode(&size))
	assert.Equal(t, 2560.0, size.Width)
	assert.NoError(t, reply.Err())
}

func TestErrorReply(t *testing.T) {
	req := MustNew(TypeStopRecordingVideo, "s1", nil)
	req.RequestID = "r-2"

	reply := ErrorReply(req, errors.New("encoder crashed"))
	err := reply.Err()
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "encoder crashed", remote.Message)
}

func TestDecodeCaptureUserEvent(t *testing.T) {
	env := MustNew(TypeCaptureUserEvent, "s1", CaptureUserEvent{
		Event: models.MousePosition(100, models.Point{X: 100, Y: 100}),
	})

	var payload CaptureUserEvent
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, models.KindMousePosition, payload.Event.Kind)
	assert.Equal(t, models.Point{X: 100, Y: 100}, *payload.Event.Pos)
}

func TestDecodeEmptyPayload(t *testing.T) {
	env := MustNew(TypeStopSession, "", nil)
	var resp StopSessionResponse
	assert.NoError(t, env.Decode(&resp))
	assert.Empty(t, resp.ArtifactRef)
}
