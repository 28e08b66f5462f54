// Copyright (c) 2024 The Lens Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package socket

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/lens/pkg/errors"
)

// Wildcard is the host name meaning any local address.
const Wildcard = "*"

// IPToSockaddr converts ip and port into a socket address of the family
// matching ip, a nil ip meaning the IPv4 wildcard.
func IPToSockaddr(ip net.IP, port int, zone string) unix.Sockaddr {
	if ip == nil {
		return &unix.SockaddrInet4{Port: port}
	}
	if ip4 := ip.To4(); ip4 != nil && zone == "" {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	if ip6 := ip.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: port, ZoneId: uint32(ip6ZoneToInt(zone))}
		copy(sa.Addr[:], ip6)
		return sa
	}
	return nil
}

// SockaddrFamily returns the address family of sa.
func SockaddrFamily(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// SockaddrToUDPAddr converts sa into a *net.UDPAddr, nil for non-IP addresses.
func SockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port, Zone: ip6ZoneToString(sa.ZoneId)}
	}
	return nil
}

// SockaddrToHostPort returns the numeric host and the port of sa. IPv4-mapped
// IPv6 addresses are reported in their IPv4 form.
func SockaddrToHostPort(sa unix.Sockaddr) (string, int) {
	addr := SockaddrToUDPAddr(sa)
	if addr == nil {
		return "?", -1
	}
	host := addr.IP.String()
	if addr.Zone != "" {
		host += "%" + addr.Zone
	}
	return host, addr.Port
}

// ToFamily returns sa expressed in family, mapping IPv4 addresses into IPv6
// ones when an IPv6 descriptor has to reach an IPv4 peer.
func ToFamily(sa unix.Sockaddr, family int) (unix.Sockaddr, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		if family == unix.AF_INET {
			return sa, nil
		}
		sa6 := &unix.SockaddrInet6{Port: sa.Port}
		copy(sa6.Addr[:], net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]).To16())
		return sa6, nil
	case *unix.SockaddrInet6:
		if family == unix.AF_INET6 {
			return sa, nil
		}
		if ip4 := net.IP(sa.Addr[:]).To4(); ip4 != nil {
			sa4 := &unix.SockaddrInet4{Port: sa.Port}
			copy(sa4.Addr[:], ip4)
			return sa4, nil
		}
	}
	return nil, errorx.ErrNoAddress
}

func ip6ZoneToInt(zone string) int {
	if zone == "" {
		return 0
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return ifi.Index
	}
	n, _ := strconv.Atoi(zone)
	return n
}

func ip6ZoneToString(zone uint32) string {
	if zone == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(zone)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(zone), 10)
}
