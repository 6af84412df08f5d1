package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"reflect"
	"testing"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw     string
		want    Selector
		wantErr bool
	}{
		{"0", Selector{Index: 0}, false},
		{" 1 ", Selector{Index: 1}, false},
		{"63", Selector{Index: 63}, false},
		{"64", Selector{}, true},
		{"-1", Selector{}, true},
		{"rtsp://cam.local:554/stream", Selector{URL: "rtsp://cam.local:554/stream"}, false},
		{"https://cam.local/mjpeg", Selector{URL: "https://cam.local/mjpeg"}, false},
		{"ftp://cam.local/x", Selector{}, true},
		{"rtsp://", Selector{}, true},
		{"webcam", Selector{}, true},
		{"", Selector{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSelector(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSelector(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSelector(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSelectorString(t *testing.T) {
	if s := (Selector{Index: 2}).String(); s != "2" {
		t.Errorf("expected 2, got %s", s)
	}
	if s := (Selector{URL: "rtsp://x/y"}).String(); s != "rtsp://x/y" {
		t.Errorf("expected url, got %s", s)
	}
}

func TestFFmpegInputArgs(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		sel     Selector
		want    []string
		wantErr bool
	}{
		{"linux camera", "linux", Selector{Index: 2}, []string{"-f", "v4l2", "-i", "/dev/video2"}, false},
		{"darwin camera", "darwin", Selector{Index: 0}, []string{"-f", "avfoundation", "-framerate", "30", "-i", "0"}, false},
		{"windows camera", "windows", Selector{Index: 0}, nil, true},
		{"rtsp over tcp", "windows", Selector{URL: "rtsp://cam/s"}, []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/s"}, false},
		{"http stream", "linux", Selector{URL: "http://cam/mjpeg"}, []string{"-i", "http://cam/mjpeg"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FFmpeg{GOOS: tt.goos}.InputArgs(tt.sel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func jpegFrame(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamSource(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(jpegFrame(t, color.RGBA{R: 255, A: 255}))
	stream.Write(jpegFrame(t, color.RGBA{B: 255, A: 255}))

	src := newStreamSource(io.NopCloser(&stream))
	defer src.Close()

	first, err := src.Read()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if first.Bounds().Dx() != 16 {
		t.Errorf("unexpected bounds %v", first.Bounds())
	}
	if c := first.RGBAAt(8, 8); c.R < 200 || c.B > 50 {
		t.Errorf("expected a red frame, got %v", c)
	}

	second, err := src.Read()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if c := second.RGBAAt(8, 8); c.B < 200 || c.R > 50 {
		t.Errorf("expected a blue frame, got %v", c)
	}

	if _, err := src.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after the last frame, got %v", err)
	}
}

func TestStreamSource_Pending(t *testing.T) {
	src := newStreamSource(io.NopCloser(&bytes.Buffer{}))
	want := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.pending = want
	got, err := src.Read()
	if err != nil || got != want {
		t.Fatalf("expected the pending frame first, got %v %v", got, err)
	}
}

func TestToRGBA(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if ToRGBA(rgba) != rgba {
		t.Error("RGBA input should be returned as is")
	}

	gray := image.NewGray(image.Rect(5, 5, 7, 7))
	gray.SetGray(5, 5, color.Gray{Y: 100})
	out := ToRGBA(gray)
	if out.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Fatalf("expected zero-origin bounds, got %v", out.Bounds())
	}
	if c := out.RGBAAt(0, 0); c.R != 100 || c.A != 255 {
		t.Errorf("unexpected pixel %v", c)
	}
}
