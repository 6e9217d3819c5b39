//go:build !unix

package limits

// AdjustUlimit reports DefaultFileDescriptorsLimit on platforms without
// RLIMIT_NOFILE. requested is ignored.
func AdjustUlimit(requested uint64) (uint64, error) {
	return DefaultFileDescriptorsLimit, nil
}
