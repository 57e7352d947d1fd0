//go:build !unix

package cache

import "os"

func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }

func isNoSpace(error) bool { return false }
