// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

// RenderTemplate substitutes the {{placeholder}} tokens of a monitor name or message with the given variables.
// Unknown tokens are left in place so a misconfigured template is visible in the notification rather than
// silently dropped.
func RenderTemplate(text string, vars map[string]string) string {
	return placeholderRegexp.ReplaceAllStringFunc(text, func(token string) string {
		match := placeholderRegexp.FindStringSubmatch(token)
		if value, ok := vars[match[1]]; ok {
			return value
		}

		return token
	})
}
