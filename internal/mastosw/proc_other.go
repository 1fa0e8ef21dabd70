//go:build !linux

package mastosw

func residentBytes() (uint64, bool) { return 0, false }
