package enterprise

import (
	"fmt"
	"strings"
)

type ValidationOptions struct {
	// Strict requires every top-level section. Otherwise only basic_info is
	// mandatory and the rest are reported as warnings.
	Strict bool
}

type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate checks the handful of invariants the renderer relies on. It is not
// a schema validator.
func Validate(data any, opts ValidationOptions) ValidationResult {
	var res ValidationResult
	root, ok := asMap(data)
	if !ok || root == nil {
		res.Errors = append(res.Errors, "企业数据必须是JSON对象")
		return res
	}
	b := Blob(root)

	for _, key := range TopLevelKeys {
		v, present := root[key]
		if !present || v == nil {
			if opts.Strict || key == KeyBasicInfo {
				res.Errors = append(res.Errors, fmt.Sprintf("缺少必需字段: %s", key))
			} else {
				res.Warnings = append(res.Warnings, fmt.Sprintf("缺少字段: %s", key))
			}
			continue
		}
		if _, isMap := asMap(v); !isMap {
			res.Errors = append(res.Errors, fmt.Sprintf("字段 %s 必须是对象", key))
		}
	}

	if _, ok := b.Lookup("basic_info.company_name"); !ok {
		res.Errors = append(res.Errors, "缺少企业名称: basic_info.company_name")
	} else if CompanyName(b) == "" {
		res.Errors = append(res.Errors, "企业名称不能为空: basic_info.company_name")
	}

	for _, path := range ListPaths {
		v, present := b.Lookup(path)
		if !present || v == nil {
			continue
		}
		if !isList(v) {
			res.Errors = append(res.Errors, fmt.Sprintf("字段 %s 必须是数组", path))
		}
	}
	return res
}

// FormatErrors joins validation errors for log lines.
func FormatErrors(errs []string) string {
	return strings.Join(errs, "; ")
}
