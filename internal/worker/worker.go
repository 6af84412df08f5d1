// Package worker runs an out-of-process face encoder (for example the python face_recognition stack)
// and implements encoder.Provider over a length-prefixed pipe protocol.
//
// Request on stdin:  [u32 len][jpeg bytes]
// Response on FD 3:  [u32 len][payload]
// Success payload:   [0][u32 n] then n x ([4]i32 top,right,bottom,left; [128]f32 encoding)
// Failure payload:   [1][u32 len][error message]
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/securiface/internal/encoder"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/andresmejia3/securiface/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse guards against reading garbage lengths from a crashed sidecar.
	maxResponse = 64 * 1024 * 1024
)

type SidecarWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewSidecarWorker starts the encoder process described by args (program first).
func NewSidecarWorker(ctx context.Context, id int, args []string) (*SidecarWorker, error) {
	if len(args) == 0 {
		return nil, errors.New("empty encoder command")
	}
	proc := utils.NewSafeCommand(ctx, args[0], args[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("encoder worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &SidecarWorker{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *SidecarWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch a sidecar that died on import
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("encoder worker response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the faces found in it.
func (w *SidecarWorker) ProcessFrame(jpegData []byte) ([]types.DetectedFace, error) {
	w.mu.Lock()
	resp, err := w.Communicate(jpegData)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Detect implements encoder.Provider.
func (w *SidecarWorker) Detect(img image.Image) ([]types.DetectedFace, error) {
	data, err := encoder.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return w.ProcessFrame(data)
}

func decodeResponse(resp []byte) ([]types.DetectedFace, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty response from encoder worker")
	}
	r := bytes.NewReader(resp[1:])

	if resp[0] == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("reading error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("reading error message: %w", err)
		}
		return nil, fmt.Errorf("encoder worker error: %s", msg)
	}
	if resp[0] != statusOK {
		return nil, fmt.Errorf("unknown encoder worker status %d", resp[0])
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("reading face count: %w", err)
	}

	faces := make([]types.DetectedFace, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("reading box %d: %w", i, err)
		}
		var vec [types.EncodingDim]float32
		if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
			return nil, fmt.Errorf("reading encoding %d: %w", i, err)
		}
		enc := make([]float64, types.EncodingDim)
		for j, v := range vec {
			enc[j] = float64(v)
		}
		faces = append(faces, types.DetectedFace{
			Box:      types.BoundingBox{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Encoding: enc,
		})
	}
	return faces, nil
}

// Close shuts the sidecar down by closing its input and waiting for it to exit.
func (w *SidecarWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
