package configtypes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ListenPort extracts the port from a listen address. Accepted forms are
// ":8080", "8080", "0.0.0.0:8080" and "[::1]:8080".
func ListenPort(listen string) (int, error) {
	if listen == "" {
		return 0, fmt.Errorf("listen address is empty")
	}

	portStr := listen
	if strings.Contains(listen, ":") {
		var err error
		if _, portStr, err = net.SplitHostPort(listen); err != nil {
			return 0, fmt.Errorf("invalid listen address format: %s: %w", listen, err)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port in listen address: %s", listen)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return port, nil
}

// NormalizeListen returns the address in host:port form ("8080" becomes ":8080").
func NormalizeListen(listen string) (string, error) {
	if _, err := ListenPort(listen); err != nil {
		return "", err
	}
	if !strings.Contains(listen, ":") {
		return ":" + listen, nil
	}
	return listen, nil
}
