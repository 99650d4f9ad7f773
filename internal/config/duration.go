package config

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

var longDurationPattern = regexp.MustCompile(`^(\d+)([dwy])$`)

// ParseDuration accepts Go duration syntax plus whole days, weeks and years ("7d", "2w", "1y").
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}

	match := longDurationPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}

	amount, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}

	unit := 24 * time.Hour
	switch match[2] {
	case "w":
		unit *= 7
	case "y":
		unit *= 365
	}
	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid duration %q: out of range", value)
	}
	return time.Duration(amount) * unit, nil
}

func StringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return ParseDuration(data.(string))
	}
}
