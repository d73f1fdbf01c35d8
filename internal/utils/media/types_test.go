package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow"

	"fleetbot/internal/transport"
)

func TestKindFromMime(t *testing.T) {
	assert.Equal(t, transport.KindSticker, KindFromMime("image/webp"))
	assert.Equal(t, transport.KindImage, KindFromMime("IMAGE/PNG"))
	assert.Equal(t, transport.KindVideo, KindFromMime("video/mp4"))
	assert.Equal(t, transport.KindAudio, KindFromMime("audio/ogg; codecs=opus"))
	assert.Equal(t, transport.KindDocument, KindFromMime("application/pdf"))
}

func TestKindFromFileName(t *testing.T) {
	assert.Equal(t, transport.KindImage, KindFromFileName("a.JPG"))
	assert.Equal(t, transport.KindAudio, KindFromFileName("voice.opus"))
	assert.Equal(t, transport.KindDocument, KindFromFileName("notes"))
}

func TestUploadType(t *testing.T) {
	mt, ok := UploadType(transport.KindSticker)
	assert.True(t, ok)
	assert.Equal(t, whatsmeow.MediaImage, mt)

	_, ok = UploadType(transport.KindText)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	m := &transport.OutgoingMedia{FileName: "clip.mp4"}
	Resolve(m)
	assert.Equal(t, transport.KindVideo, m.Kind)
	assert.Equal(t, "video/mp4", m.Mimetype)

	m = &transport.OutgoingMedia{Mimetype: "image/png"}
	Resolve(m)
	assert.Equal(t, transport.KindImage, m.Kind)
	assert.Equal(t, "image/png", m.Mimetype)

	m = &transport.OutgoingMedia{Kind: transport.KindAudio}
	Resolve(m)
	assert.Equal(t, "audio/ogg; codecs=opus", m.Mimetype)
}
