// Package jumphash implements Google's Jump consistent hash.
//
// See https://arxiv.org/abs/1406.2294. The implementation follows
// https://github.com/dgryski/go-jump.
package jumphash

// Hash maps key to a bucket in [0, buckets). When buckets grows from n to
// n+1, only about 1/(n+1) of the keys move, all of them to the new bucket.
// A non-positive bucket count yields 0.
func Hash(key uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	var b int64 = -1
	var j int64

	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}

	return int(b)
}
