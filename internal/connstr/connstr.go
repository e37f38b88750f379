// SPDX-License-Identifier: Apache-2.0

package connstr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/serenorg/seren-replicator/pkg/tooldriver"
)

// ParseConnParams breaks a postgres:// URL into the structured form the
// external tool driver expects, defaulting the port to 5432 when absent.
func ParseConnParams(connStr string) (tooldriver.ConnParams, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return tooldriver.ConnParams{}, fmt.Errorf("failed to parse connection string: %w", err)
	}

	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return tooldriver.ConnParams{}, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	password, _ := u.User.Password()
	return tooldriver.ConnParams{
		Host:     u.Hostname(),
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Password: password,
	}, nil
}
