package log

import (
	"fmt"
	"os"
	"time"
)

// rotateBySize renames path -> path.1, shifting any existing path.1..path.N-1
// up one slot and discarding whatever already occupies path.N. It assumes
// the caller has already closed the file handle at path.
func rotateBySize(path string, maxCount int) error {
	if maxCount < 1 {
		return nil
	}
	oldest := fmt.Sprintf("%s.%d", path, maxCount)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return err
		}
	}
	for n := maxCount - 1; n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", path, n)
		dst := fmt.Sprintf("%s.%d", path, n+1)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Rename(path, path+".1")
}

// rotateByDate renames path -> path.<oldDate> so a fresh file can be opened
// for the new date. The caller has already closed the file handle at path.
func rotateByDate(path string, oldDate string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	dst := fmt.Sprintf("%s.%s", path, oldDate)
	return os.Rename(path, dst)
}

func currentDateStamp() string {
	return time.Now().Format("2006-01-02")
}
