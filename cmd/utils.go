package cmd

import "os"

// Shared helper function. Report if file exists on disk.
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}
