//go:build linux

package sysreg

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"codeberg.org/mutker/bcld/internal/errors"
	"golang.org/x/sys/unix"
)

// DevMem maps pages of /dev/mem on first use. Accesses are single 32-bit
// loads and stores.
type DevMem struct {
	fd       int
	pageSize uint32
	mu       sync.Mutex
	pages    map[uint32][]byte
}

// OpenDevMem opens path (normally /dev/mem) for synchronous access.
func OpenDevMem(path string) (*DevMem, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.New().Wrap(ErrMap, &os.PathError{Op: "open", Path: path, Err: err})
	}
	return &DevMem{
		fd:       fd,
		pageSize: uint32(os.Getpagesize()),
		pages:    make(map[uint32][]byte),
	}, nil
}

func (d *DevMem) word(addr uint32) (*uint32, error) {
	errFactory := errors.New()
	if addr%4 != 0 {
		return nil, errFactory.WithData(ErrUnaligned, fmt.Sprintf("0x%08x", addr))
	}

	base := addr &^ (d.pageSize - 1)

	d.mu.Lock()
	defer d.mu.Unlock()

	page, ok := d.pages[base]
	if !ok {
		var err error
		page, err = unix.Mmap(d.fd, int64(base), int(d.pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, errFactory.Wrap(ErrMap, fmt.Errorf("mmap 0x%08x: %w", base, err))
		}
		d.pages[base] = page
	}

	return (*uint32)(unsafe.Pointer(&page[addr-base])), nil
}

func (d *DevMem) Read32(addr uint32) (uint32, error) {
	w, err := d.word(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(w), nil
}

func (d *DevMem) Write32(addr, value uint32) error {
	w, err := d.word(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(w, value)
	return nil
}

// Close unmaps every page and closes the device.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for base, page := range d.pages {
		if err := unix.Munmap(page); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.pages, base)
	}
	if err := unix.Close(d.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, firstErr)
	}
	return nil
}
