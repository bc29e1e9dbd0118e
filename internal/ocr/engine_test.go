package ocr

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	active  int32
	overlap bool
	boxes   []gosseract.BoundingBox
	text    string
	images  int
	closed  bool
}

func (c *fakeClient) SetImageFromBytes([]byte) error {
	if atomic.AddInt32(&c.active, 1) > 1 {
		c.overlap = true
	}
	c.mu.Lock()
	c.images++
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error) {
	defer atomic.AddInt32(&c.active, -1)
	if level != gosseract.RIL_PARA {
		return nil, errors.New("unexpected level")
	}
	return c.boxes, nil
}

func (c *fakeClient) Text() (string, error) { return c.text, nil }

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func newTestEngine(factory func([]string) (client, error)) *TesseractEngine {
	e := NewTesseractEngine(nil, nil)
	e.newClient = factory
	return e
}

func TestRecognize_JoinsParagraphs(t *testing.T) {
	fc := &fakeClient{boxes: []gosseract.BoundingBox{
		{Word: "  Первый абзац \n"},
		{Word: "   "},
		{Word: "Second paragraph"},
	}}
	e := newTestEngine(func(langs []string) (client, error) {
		assert.Equal(t, []string{"rus", "eng"}, langs)
		return fc, nil
	})

	text, err := e.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "Первый абзац\nSecond paragraph", text)
}

func TestRecognize_FallsBackToPlainText(t *testing.T) {
	fc := &fakeClient{text: " plain \n"}
	e := newTestEngine(func([]string) (client, error) { return fc, nil })

	text, err := e.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestRecognize_LazySingleInitialization(t *testing.T) {
	var built int32
	fc := &fakeClient{boxes: []gosseract.BoundingBox{{Word: "x"}}}
	e := newTestEngine(func([]string) (client, error) {
		atomic.AddInt32(&built, 1)
		return fc, nil
	})
	assert.Zero(t, atomic.LoadInt32(&built))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Recognize(context.Background(), []byte("img"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
	assert.Equal(t, 32, fc.images)
	assert.False(t, fc.overlap, "recognition calls must not overlap")
}

func TestRecognize_RetriesFailedInitialization(t *testing.T) {
	attempts := 0
	fc := &fakeClient{boxes: []gosseract.BoundingBox{{Word: "ok"}}}
	e := newTestEngine(func([]string) (client, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("tessdata missing")
		}
		return fc, nil
	})

	_, err := e.Recognize(context.Background(), []byte("img"))
	require.Error(t, err)

	text, err := e.Recognize(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)

	require.NoError(t, e.Close())
	assert.True(t, fc.closed)
	assert.NoError(t, e.Close())
}

func TestRecognize_CanceledContext(t *testing.T) {
	e := newTestEngine(func([]string) (client, error) {
		t.Fatal("client must not be built for a canceled call")
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Recognize(ctx, []byte("img"))
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingEngine struct{ got []byte }

func (r *recordingEngine) Recognize(_ context.Context, data []byte) (string, error) {
	r.got = data
	return "text", nil
}

func TestRecognizeImage_EncodesPNG(t *testing.T) {
	r := &recordingEngine{}
	text, err := RecognizeImage(context.Background(), r, image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Equal(t, "text", text)
	require.True(t, len(r.got) > 8)
	assert.Equal(t, "\x89PNG", string(r.got[:4]))
}
