// Package mock provides a lightweight in-memory decoder for testing code
// built on top of the fsb package, without real FSB containers on disk.
package mock

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	fsb "github.com/izh318/fsb-sdk"
)

var ErrNotFound = errors.New("not found")

// SubSound pairs a descriptor with its decoded PCM bytes.
type SubSound struct {
	Desc fsb.SampleDescriptor
	PCM  []byte
}

// Container is an in-memory fsb.Container.
type Container struct {
	ContainerName string
	Format        fsb.BuildFormat
	Sounds        []SubSound
	closed        bool
}

// Decoder is an in-memory implementation of fsb.Decoder, keyed by the path
// passed to Open. The chunk offset is ignored; a mock container stands for
// whatever chunk the test opens.
type Decoder struct {
	Containers map[string]*Container
}

// New creates an empty mock decoder.
func New() *Decoder {
	return &Decoder{Containers: make(map[string]*Container)}
}

// Add registers a container under a path.
func (d *Decoder) Add(path string, c *Container) {
	d.Containers[path] = c
}

// Open implements fsb.Decoder.
func (d *Decoder) Open(path string, offset uint64) (fsb.Container, error) {
	c, ok := d.Containers[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &handle{container: c}, nil
}

// handle is one opened view of a mock container.
type handle struct {
	container *Container
	closed    bool
}

func (h *handle) Name() string {
	return h.container.ContainerName
}

func (h *handle) BuildFormat() fsb.BuildFormat {
	return h.container.Format
}

func (h *handle) NumSubSounds() int {
	return len(h.container.Sounds)
}

func (h *handle) Describe(index int) (fsb.SampleDescriptor, error) {
	if h.closed {
		return fsb.SampleDescriptor{}, errors.New("mock container is closed")
	}
	if index < 0 || index >= len(h.container.Sounds) {
		return fsb.SampleDescriptor{}, fmt.Errorf("%w: sub-sound %d", ErrNotFound, index)
	}
	return h.container.Sounds[index].Desc, nil
}

func (h *handle) OpenPCM(index int) (io.ReadCloser, error) {
	if h.closed {
		return nil, errors.New("mock container is closed")
	}
	if index < 0 || index >= len(h.container.Sounds) {
		return nil, fmt.Errorf("%w: sub-sound %d", ErrNotFound, index)
	}
	s := h.container.Sounds[index]
	if s.PCM == nil {
		return nil, fmt.Errorf("no PCM for sub-sound %d", index)
	}
	return io.NopCloser(bytes.NewReader(s.PCM)), nil
}

func (h *handle) Close() error {
	h.closed = true
	return nil
}
