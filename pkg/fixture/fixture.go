// Package fixture reads, writes and generates attention simulation fixtures.
// A fixture is a JSON encoded CalculateRequest, addressed by the sha256 of
// its encoding when stored in a blobstore.
package fixture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"
	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/attention"
)

func Encode(req *api.CalculateRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding fixture: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (*api.CalculateRequest, error) {
	req := &api.CalculateRequest{}
	if err := json.Unmarshal(b, req); err != nil {
		return nil, fmt.Errorf("decoding fixture: %w", err)
	}
	return req, nil
}

// Hash returns the hex sha256 of the fixture's encoding.
func Hash(req *api.CalculateRequest) (string, error) {
	b, err := Encode(req)
	if err != nil {
		return "", err
	}
	return hashBytes(b), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func ReadFile(p string) (*api.CalculateRequest, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %q: %w", p, err)
	}
	req, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %q: %w", p, err)
	}
	return req, nil
}

// WriteFile writes the fixture to p and returns its hash.
func WriteFile(p string, req *api.CalculateRequest) (string, error) {
	b, err := Encode(req)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, b, 0644); err != nil {
		return "", fmt.Errorf("writing fixture %q: %w", p, err)
	}
	return hashBytes(b), nil
}

// Generate builds a random fixture with the given number of positions. Keys
// and values are [1,dim] and the query of position i is [i+1,dim]. Expected
// answers are computed with attention.Reference.
func Generate(rng *rand.Rand, positions, dim int) (*api.CalculateRequest, error) {
	if positions <= 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid fixture size: %d positions of dimension %d", positions, dim)
	}

	random := func(rows int) *mat.Dense {
		data := make([]float64, rows*dim)
		for i := range data {
			data[i] = rng.NormFloat64()
		}
		return mat.NewDense(rows, dim, data)
	}

	var queries, keys, values []*mat.Dense
	for i := 0; i < positions; i++ {
		queries = append(queries, random(i+1))
		keys = append(keys, random(1))
		values = append(values, random(1))
	}

	expected, err := attention.Reference(queries, keys, values)
	if err != nil {
		return nil, fmt.Errorf("computing expected answers: %w", err)
	}

	req := &api.CalculateRequest{}
	for i := 0; i < positions; i++ {
		req.Queries = append(req.Queries, attention.FromDense(queries[i]))
		req.Keys = append(req.Keys, attention.FromDense(keys[i]))
		req.Values = append(req.Values, attention.FromDense(values[i]))
		req.Expected = append(req.Expected, attention.FromDense(expected[i]))
	}
	return req, nil
}
