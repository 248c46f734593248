package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/fpang/item-identify/internal/imagesource"
)

type fakeBedrock struct {
	dims    int
	err     error
	lastReq titanImageRequest
	modelID string
	calls   int
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.modelID = *in.ModelId
	if err := json.Unmarshal(in.Body, &f.lastReq); err != nil {
		return nil, err
	}
	vec := make([]float64, f.dims)
	for i := range vec {
		vec[i] = float64(i) / float64(f.dims)
	}
	body, _ := json.Marshal(titanImageResponse{Embedding: vec})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{G: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTitanClient_Embed(t *testing.T) {
	fake := &fakeBedrock{dims: 1024}
	c, err := NewTitanClient(fake, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	img := imagesource.Image{Data: encodePNG(t, 32, 32), MIMEType: "image/png"}
	emb, err := c.Embed(context.Background(), img)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb.Vector) != 1024 {
		t.Errorf("len(Vector) = %d", len(emb.Vector))
	}
	if emb.ContentHash != img.Hash() {
		t.Errorf("ContentHash = %s, want %s", emb.ContentHash, img.Hash())
	}
	if fake.modelID != DefaultModelID {
		t.Errorf("model = %s", fake.modelID)
	}
	if fake.lastReq.EmbeddingConfig.OutputEmbeddingLength != 1024 {
		t.Errorf("outputEmbeddingLength = %d", fake.lastReq.EmbeddingConfig.OutputEmbeddingLength)
	}
	sent, err := base64.StdEncoding.DecodeString(fake.lastReq.InputImage)
	if err != nil || !bytes.Equal(sent, img.Data) {
		t.Error("small PNG should be sent unchanged")
	}
}

func TestTitanClient_Errors(t *testing.T) {
	ctx := context.Background()
	img := imagesource.Image{Data: encodePNG(t, 8, 8)}

	c, _ := NewTitanClient(&fakeBedrock{err: errors.New("ThrottlingException")}, "", 1024, 0)
	if _, err := c.Embed(ctx, img); !errors.Is(err, ErrEmbeddingFailure) {
		t.Errorf("provider error = %v, want ErrEmbeddingFailure", err)
	}

	c, _ = NewTitanClient(&fakeBedrock{dims: 256}, "", 1024, 0)
	if _, err := c.Embed(ctx, img); !errors.Is(err, ErrEmbeddingFailure) {
		t.Errorf("dimension mismatch = %v, want ErrEmbeddingFailure", err)
	}

	fake := &fakeBedrock{dims: 1024}
	c, _ = NewTitanClient(fake, "", 1024, 0)
	if _, err := c.Embed(ctx, imagesource.Image{Data: []byte("not an image")}); !errors.Is(err, ErrEmbeddingFailure) {
		t.Errorf("bad image = %v, want ErrEmbeddingFailure", err)
	}
	if fake.calls != 0 {
		t.Error("provider called for an undecodable image")
	}

	if _, err := NewTitanClient(fake, "", 768, 0); err == nil {
		t.Error("NewTitanClient accepted 768 dimensions")
	}
}

func TestTitanClient_CancelledContext(t *testing.T) {
	fake := &fakeBedrock{dims: 1024}
	c, _ := NewTitanClient(fake, "", 1024, 0.001)
	ctx, cancel := context.WithCancel(context.Background())
	img := imagesource.Image{Data: encodePNG(t, 8, 8)}

	// First call consumes the only token.
	if _, err := c.Embed(ctx, img); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := c.Embed(ctx, img); !errors.Is(err, ErrEmbeddingFailure) {
		t.Errorf("err = %v, want ErrEmbeddingFailure", err)
	}
}

func TestPrepare_Downscales(t *testing.T) {
	img := imagesource.Image{Data: encodePNG(t, 3000, 1500)}
	out, err := Prepare(img)
	if err != nil {
		t.Fatal(err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" || cfg.Width != MaxDimension || cfg.Height != MaxDimension/2 {
		t.Errorf("prepared %s %dx%d", format, cfg.Width, cfg.Height)
	}

	again, _ := Prepare(img)
	if !bytes.Equal(out, again) {
		t.Error("Prepare is not deterministic")
	}
}

func TestPrepare_LargeJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 2000))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}
	out, err := Prepare(imagesource.Image{Data: buf.Bytes()})
	if err != nil {
		t.Fatal(err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" || cfg.Height != MaxDimension || cfg.Width != 800*MaxDimension/2000 {
		t.Errorf("prepared %s %dx%d", format, cfg.Width, cfg.Height)
	}
}
