package catalog

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/google/uuid"

	"strategylab/internal/domain"
)

var datasetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("strategylab:dataset"))

// Fingerprint identifies a bar series by content. Equal series always have
// equal fingerprints.
func Fingerprint(bars []domain.Bar) uuid.UUID {
	buf := make([]byte, 0, len(bars)*48)
	for _, b := range bars {
		buf = binary.BigEndian.AppendUint64(buf, uint64(b.Time.UnixNano()))
		for _, f := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
		}
	}
	return uuid.NewSHA1(datasetNamespace, buf)
}

// memoKey derives the memo key of a formula evaluated with params over the
// dataset fp.
func memoKey(fp uuid.UUID, src string, params map[string]float64) uuid.UUID {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	buf := []byte(src)
	for _, k := range names {
		buf = append(buf, 0)
		buf = append(buf, k...)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(params[k]))
	}
	return uuid.NewSHA1(fp, buf)
}
