/*
Copyright 2024 The Subnetgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package subnet provides cached AWS subnet capacity lookups for the
// admission gate.
package subnet

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/go-logr/logr"

	"github.com/ahoma/subnetgate/internal/cache"
)

// ReservedAddresses is the number of addresses AWS reserves in every subnet
// (network, router, DNS, future use, broadcast). They are never assignable
// and are excluded from the usable total.
const ReservedAddresses = 5

// Capacity describes the address capacity of one subnet.
type Capacity struct {
	// TotalUsable is the CIDR block size minus the AWS reserved addresses.
	TotalUsable int
	// Available is the address count AWS currently reports as free.
	Available int
}

// LookupError wraps any failure to obtain capacity data for a subnet:
// API errors, timeouts, missing subnets and malformed responses all map here.
type LookupError struct {
	SubnetID string
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("subnet %s: capacity lookup failed: %v", e.SubnetID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// DescribeSubnetsAPI is the subset of the EC2 client used by the provider.
type DescribeSubnetsAPI interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// Provider returns subnet capacity data, serving repeated lookups for the
// same subnet from a TTL-bounded cache. Concurrent misses for the same subnet
// may each call EC2; the cache tolerates that race and the last write wins.
type Provider struct {
	api     DescribeSubnetsAPI
	cache   *cache.Cache[Capacity]
	timeout time.Duration
	log     logr.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewProvider creates a provider backed by the given EC2 API and cache.
// Every upstream call is bounded by timeout.
func NewProvider(api DescribeSubnetsAPI, capacityCache *cache.Cache[Capacity], timeout time.Duration, log logr.Logger) *Provider {
	return &Provider{
		api:     api,
		cache:   capacityCache,
		timeout: timeout,
		log:     log.WithName("subnet-provider"),
	}
}

// Lookup returns the capacity of the named subnet, from cache when a fresh
// entry exists, otherwise via one DescribeSubnets call.
func (p *Provider) Lookup(ctx context.Context, subnetID string) (Capacity, error) {
	if cached, ok := p.cache.Get(subnetID); ok {
		p.hits.Add(1)
		p.log.V(1).Info("cache hit", "subnet", subnetID,
			"totalUsable", cached.TotalUsable, "available", cached.Available)
		return cached, nil
	}
	p.misses.Add(1)

	capacity, err := p.describe(ctx, subnetID)
	if err != nil {
		return Capacity{}, &LookupError{SubnetID: subnetID, Err: err}
	}

	p.cache.Set(subnetID, capacity)
	p.log.V(1).Info("fetched subnet capacity", "subnet", subnetID,
		"totalUsable", capacity.TotalUsable, "available", capacity.Available)
	return capacity, nil
}

// Stats returns cumulative cache hit and miss counts.
func (p *Provider) Stats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}

// describe issues the upstream DescribeSubnets call and derives the usable
// address total from the subnet's CIDR block.
func (p *Provider) describe(ctx context.Context, subnetID string) (Capacity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{subnetID},
	})
	if err != nil {
		return Capacity{}, err
	}
	if len(out.Subnets) == 0 {
		return Capacity{}, fmt.Errorf("no subnet found")
	}

	described := out.Subnets[0]
	if described.CidrBlock == nil || described.AvailableIpAddressCount == nil {
		return Capacity{}, fmt.Errorf("incomplete subnet description")
	}

	total, err := usableAddresses(*described.CidrBlock)
	if err != nil {
		return Capacity{}, err
	}

	return Capacity{
		TotalUsable: total,
		Available:   int(*described.AvailableIpAddressCount),
	}, nil
}

// usableAddresses returns the number of assignable addresses in a CIDR block,
// clamped at zero for blocks smaller than the reserved set.
func usableAddresses(cidr string) (int, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return 0, fmt.Errorf("invalid CIDR block %q: %w", cidr, err)
	}

	ones, bits := network.Mask.Size()
	hostBits := bits - ones
	if hostBits > 31 {
		// Larger than any real VPC subnet; cap instead of overflowing.
		hostBits = 31
	}

	total := (1 << hostBits) - ReservedAddresses
	if total < 0 {
		return 0, nil
	}
	return total, nil
}
