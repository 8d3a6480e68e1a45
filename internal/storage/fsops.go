package storage

import "os"

// fileOps are the filesystem calls the directory manager makes. Tests swap
// them to inject failures.
type fileOps struct {
	rename   func(oldpath, newpath string) error
	lstat    func(name string) (os.FileInfo, error)
	mkdirAll func(path string, perm os.FileMode) error
	readDir  func(name string) ([]os.DirEntry, error)
	remove   func(name string) error
}

func osFileOps() fileOps {
	return fileOps{
		rename:   os.Rename,
		lstat:    os.Lstat,
		mkdirAll: os.MkdirAll,
		readDir:  os.ReadDir,
		remove:   os.Remove,
	}
}
