package log

import (
	"os"
	"path/filepath"
)

// fileSink owns the open file handle for the file output and applies the
// configured rotation policy before each write that would overflow it.
type fileSink struct {
	path     string
	rotation RotationPolicy
	maxSize  int64
	maxCount int

	f       *os.File
	size    int64
	dateTag string
}

func newFileSink(cfg Config) (*fileSink, error) {
	if cfg.FilePath == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	s := &fileSink{
		path:     cfg.FilePath,
		rotation: cfg.Rotation,
		maxSize:  cfg.MaxFileSize,
		maxCount: cfg.MaxFileCount,
		dateTag:  currentDateStamp(),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.f = f
	s.size = info.Size()
	return nil
}

// write appends line to the sink, rotating first if the configured policy
// says this line would overflow the current file.
func (s *fileSink) write(line []byte) error {
	if err := s.maybeRotate(len(line)); err != nil {
		return err
	}
	n, err := s.f.Write(line)
	s.size += int64(n)
	return err
}

func (s *fileSink) maybeRotate(nextLen int) error {
	switch s.rotation {
	case RotateBySize:
		if s.maxSize > 0 && s.size+int64(nextLen) > s.maxSize {
			if err := s.f.Close(); err != nil {
				return err
			}
			if err := rotateBySize(s.path, s.maxCount); err != nil {
				return err
			}
			return s.open()
		}
	case RotateByDate:
		today := currentDateStamp()
		if today != s.dateTag {
			if err := s.f.Close(); err != nil {
				return err
			}
			if err := rotateByDate(s.path, s.dateTag); err != nil {
				return err
			}
			s.dateTag = today
			return s.open()
		}
	}
	return nil
}

func (s *fileSink) close() error {
	if s == nil || s.f == nil {
		return nil
	}
	return s.f.Close()
}
