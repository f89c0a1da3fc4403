package tool

import "os"

// FilesystemBackend abstracts file I/O operations so tests can observe
// or fail them without touching the disk.
type FilesystemBackend interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(path string) ([]byte, error)
	// WriteFile writes data to the named file with the given permissions.
	WriteFile(path string, data []byte, perm os.FileMode) error
	// ReadDir reads the named directory and returns its directory entries.
	ReadDir(path string) ([]os.DirEntry, error)
	// MkdirAll creates the named directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error
	// Rename moves a file or directory.
	Rename(oldPath, newPath string) error
	// Remove deletes a file or empty directory.
	Remove(path string) error
	// Stat returns file info for the named path.
	Stat(path string) (os.FileInfo, error)
	// Name returns the backend identifier (e.g. "local").
	Name() string
}

// LocalFilesystemBackend performs file I/O on the local filesystem.
type LocalFilesystemBackend struct{}

// NewLocalFilesystemBackend creates a local filesystem backend.
func NewLocalFilesystemBackend() *LocalFilesystemBackend {
	return &LocalFilesystemBackend{}
}

func (b *LocalFilesystemBackend) Name() string { return "local" }

func (b *LocalFilesystemBackend) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (b *LocalFilesystemBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (b *LocalFilesystemBackend) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (b *LocalFilesystemBackend) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (b *LocalFilesystemBackend) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (b *LocalFilesystemBackend) Remove(path string) error {
	return os.Remove(path)
}

func (b *LocalFilesystemBackend) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
