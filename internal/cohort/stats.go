package cohort

import (
	"math"
	"sort"

	"outlierscan/internal/schema"
)

// Summarize computes Stats for every (bucket, parameter) pair that carries a
// numeric value in at least MinSize of recs. String values are ignored.
// Pairs whose statistics are not finite are left out and returned as
// "<bucket>/<parameter>" in bucket order, then by name.
func Summarize(recs []schema.ElementRecord) (ParameterStats, []string) {
	out := ParameterStats{}
	var unsummarized []string
	for _, b := range schema.Buckets {
		values := make(map[string][]float64)
		for _, rec := range recs {
			for name, v := range rec.Bucket(b) {
				if f, ok := v.Float(); ok {
					values[name] = append(values[name], f)
				}
			}
		}
		for _, name := range sortedKeys(values) {
			vs := values[name]
			if len(vs) < MinSize {
				continue
			}
			s := Describe(vs)
			if !s.Finite() {
				unsummarized = append(unsummarized, string(b)+"/"+name)
				continue
			}
			if out[b] == nil {
				out[b] = map[string]Stats{}
			}
			out[b][name] = s
		}
	}
	return out, unsummarized
}

// Describe returns count, mean, population standard deviation, min and max
// of vs. The mean is computed first and the deviation in a second pass.
//
// Both passes run on the values scaled by a power of two into [-1, 1]. The
// scaling is exact, so ordinary inputs give the same bits as unscaled
// arithmetic, and values near the float64 limit cannot overflow the sum or
// the squared deviations.
func Describe(vs []float64) Stats {
	if len(vs) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(vs), Min: vs[0], Max: vs[0]}
	for _, v := range vs {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Min == s.Max {
		// All members equal: report the exact value, not an accumulated one.
		s.Mean = s.Min
		return s
	}

	_, exp := math.Frexp(math.Max(math.Abs(s.Min), math.Abs(s.Max)))
	var sum float64
	for _, v := range vs {
		sum += math.Ldexp(v, -exp)
	}
	mean := sum / float64(len(vs))

	var sq float64
	for _, v := range vs {
		d := math.Ldexp(v, -exp) - mean
		sq += d * d
	}
	s.Mean = math.Ldexp(mean, exp)
	s.StdDev = math.Ldexp(math.Sqrt(sq/float64(len(vs))), exp)
	return s
}

// Finite reports whether every statistic is a finite number.
func (s Stats) Finite() bool {
	for _, f := range []float64{s.Mean, s.StdDev, s.Min, s.Max} {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string][]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
