// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package taskstore

import "net"

// MatchesCIDR reports whether any of a task's targets falls within cidr: an
// IP target matches when cidr contains it, and a CIDR target matches when
// its network overlaps cidr. Targets that are bare hostnames never match. Uses
// stdlib net — no third-party CIDR-set library in the retrieved corpus
// covers this narrow a need, and net.ParseCIDR/Contains is the canonical
// idiomatic tool for it (see DESIGN.md).
func MatchesCIDR(targets []string, cidr string) (bool, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false, err
	}
	for _, target := range targets {
		ip := net.ParseIP(target)
		if ip == nil {
			if _, targetNet, err := net.ParseCIDR(target); err == nil &&
				(network.Contains(targetNet.IP) || targetNet.Contains(network.IP)) {
				return true, nil
			}
			continue
		}
		if network.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}
