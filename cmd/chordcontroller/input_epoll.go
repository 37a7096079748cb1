//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inputAbsinfo mirrors struct input_absinfo.
type inputAbsinfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs is EVIOCGABS(code): _IOR('E', 0x40 + code, struct input_absinfo).
func eviocgabs(code uint16) uintptr {
	const iocRead = 2
	size := unsafe.Sizeof(inputAbsinfo{})
	return uintptr(iocRead<<30 | size<<16 | 'E'<<8 | uintptr(0x40+code))
}

// queryAbsRanges reads the value range of every mapped axis on f.
func queryAbsRanges(f *os.File) map[uint16]absRange {
	out := make(map[uint16]absRange, len(evdevAxes))
	for code := range evdevAxes {
		var info inputAbsinfo
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), eviocgabs(code), uintptr(unsafe.Pointer(&info)))
		if errno != 0 {
			continue
		}
		out[code] = absRange{Min: info.Minimum, Max: info.Maximum}
	}
	return out
}

// runEvdevInput opens the given event devices and forwards their events
// until ctx is canceled or a device fails. Device numbers are indices into
// paths.
func runEvdevInput(ctx context.Context, paths []string, events chan<- Event, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	translators := make(map[int]*evdevTranslator, len(paths))
	for i, p := range paths {
		f, err := os.Open(ExpandPath(p))
		if err != nil {
			return fmt.Errorf("open input device %s: %w (run as root or add user to 'input' group)", p, err)
		}
		files = append(files, f)
		translators[int(f.Fd())] = newEvdevTranslator(i, queryAbsRanges(f))
		logger.Info("input device opened", "device", i, "path", p)
	}

	// Closing the files on shutdown makes epoll report a hangup.
	go func() {
		<-ctx.Done()
		for _, f := range files {
			_ = f.Close()
		}
	}()

	raw := make(chan deviceInputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(files, raw, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)
		case ev := <-raw:
			t := translators[ev.fd]
			if t == nil {
				continue
			}
			out := t.translate(ev.inputEvent)
			if out == nil {
				continue
			}
			select {
			case events <- out:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// readInputEventsEpoll reads from multiple input devices using epoll.
// Events are tagged with the descriptor they came from.
func readInputEventsEpoll(files []*os.File, events chan<- deviceInputEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			// Any device error is fatal for the reader.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			ev, err := decodeInputEvent(reader, buf)
			if err != nil {
				// Skip malformed events
				continue
			}
			events <- deviceInputEvent{fd: fd, inputEvent: ev}
		}
	}
}
