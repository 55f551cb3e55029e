// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package testutil holds gocheck checkers shared by the test suites.
package testutil

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/check.v1"
)

type containsChecker struct {
	*check.CheckerInfo
}

// Contains is a Checker that looks for a needle in a haystack. The
// haystack can be a string, slice, array or map.
var Contains check.Checker = &containsChecker{
	&check.CheckerInfo{Name: "Contains", Params: []string{"haystack", "needle"}},
}

func (c *containsChecker) Check(params []interface{}, names []string) (result bool, error string) {
	defer func() {
		if v := recover(); v != nil {
			result = false
			error = fmt.Sprint(v)
		}
	}()

	switch haystackV := reflect.ValueOf(params[0]); haystackV.Kind() {
	case reflect.Slice, reflect.Array:
		for n, i := haystackV.Len(), 0; i < n; i++ {
			if haystackV.Index(i).Interface() == params[1] {
				return true, ""
			}
		}
		return false, ""
	case reflect.Map:
		for _, keyV := range haystackV.MapKeys() {
			if haystackV.MapIndex(keyV).Interface() == params[1] {
				return true, ""
			}
		}
		return false, ""
	case reflect.String:
		needle, ok := params[1].(string)
		if !ok {
			panic(fmt.Sprintf("needle for a string haystack must be a string, got %T", params[1]))
		}
		return strings.Contains(haystackV.String(), needle), ""
	default:
		panic(fmt.Sprintf("haystack is of unsupported type %T", params[0]))
	}
}

type filePresenceChecker struct {
	*check.CheckerInfo
	present bool
}

// FilePresent verifies that the given file exists.
var FilePresent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FilePresent", Params: []string{"filename"}},
	present:     true,
}

// FileAbsent verifies that the given file does not exist.
var FileAbsent check.Checker = &filePresenceChecker{
	CheckerInfo: &check.CheckerInfo{Name: "FileAbsent", Params: []string{"filename"}},
	present:     false,
}

func (c *filePresenceChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "filename must be a string"
	}
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return !c.present, ""
	}
	if err != nil {
		return false, fmt.Sprintf("cannot stat %q: %v", filename, err)
	}
	return c.present, ""
}

type fileEqualsChecker struct {
	*check.CheckerInfo
}

// FileEquals verifies that the given file's content equals the string
// (or []byte) provided.
var FileEquals check.Checker = &fileEqualsChecker{
	&check.CheckerInfo{Name: "FileEquals", Params: []string{"filename", "contents"}},
}

func (c *fileEqualsChecker) Check(params []interface{}, names []string) (result bool, error string) {
	filename, ok := params[0].(string)
	if !ok {
		return false, "filename must be a string"
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return false, fmt.Sprintf("cannot read %q: %v", filename, err)
	}
	switch contents := params[1].(type) {
	case string:
		return string(data) == contents, ""
	case []byte:
		return string(data) == string(contents), ""
	}
	return false, "contents must be a string or []byte"
}
