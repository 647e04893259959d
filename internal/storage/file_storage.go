package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Constants for file operations
const (
	// DefaultStoreFile is the default filename of the durable image
	DefaultStoreFile = "signer.nvram"
	// TempFileSuffix is the suffix for temporary files during atomic operations
	TempFileSuffix = ".tmp"
	// BackupFileSuffix is the suffix for backup files
	BackupFileSuffix = ".backup"
	// FilePermissions defines the file permissions for store files
	FilePermissions = 0600
)

// FileStore implements DurableStore over a single preallocated file
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	size     int64
	file     *os.File
}

// NewFileStore opens the image at filePath, creating a zero-filled file of
// the given size when it does not exist. An existing image of a different
// size is moved aside to a backup and replaced.
func NewFileStore(filePath string, size int64) (*FileStore, error) {
	if filePath == "" {
		filePath = DefaultStoreFile
	}
	if size <= 0 {
		return nil, fmt.Errorf("store size must be positive, got %d", size)
	}

	fs := &FileStore{filePath: filePath, size: size}

	info, err := os.Stat(filePath)
	switch {
	case os.IsNotExist(err):
		if err := fs.writeFileAtomic(make([]byte, size)); err != nil {
			return nil, fmt.Errorf("failed to create store file: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat store file: %w", err)
	case info.Size() != size:
		if err := fs.createBackup(); err != nil {
			return nil, fmt.Errorf("failed to back up store of size %d: %w", info.Size(), err)
		}
		if err := fs.writeFileAtomic(make([]byte, size)); err != nil {
			return nil, fmt.Errorf("failed to recreate store file: %w", err)
		}
	}

	file, err := os.OpenFile(filePath, os.O_RDWR, FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file: %w", err)
	}
	fs.file = file
	return fs, nil
}

// Path returns the location of the backing file
func (fs *FileStore) Path() string {
	return fs.filePath
}

// Size returns the capacity of the store
func (fs *FileStore) Size() int64 {
	return fs.size
}

// ReadAt fills p from the image
func (fs *FileStore) ReadAt(p []byte, off int64) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.file == nil {
		return ErrClosed
	}
	if err := checkBounds(fs.size, len(p), off); err != nil {
		return err
	}
	if _, err := fs.file.ReadAt(p, off); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read store at %d: %w", off, err)
	}
	return nil
}

// WriteAt writes p into the image and syncs the file before returning
func (fs *FileStore) WriteAt(p []byte, off int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return ErrClosed
	}
	if err := checkBounds(fs.size, len(p), off); err != nil {
		return err
	}
	if _, err := fs.file.WriteAt(p, off); err != nil {
		return fmt.Errorf("failed to write store at %d: %w", off, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync store: %w", err)
	}
	return nil
}

// Close closes the backing file
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

// writeFileAtomic writes data to the store path using temp file + rename
func (fs *FileStore) writeFileAtomic(data []byte) error {
	return writeFileAtomic(fs.filePath, data, FilePermissions)
}

// createBackup copies the current image next to itself
func (fs *FileStore) createBackup() error {
	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		return nil
	}
	return copyFile(fs.filePath, fs.filePath+BackupFileSuffix)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := path + TempFileSuffix
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	// Ensure temp file is cleaned up on error
	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil

	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return destFile.Sync()
}
