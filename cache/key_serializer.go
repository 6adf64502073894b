package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator joins cache key segments.
const KeySeparator = "::"

// DefaultMaxSegment is the longest argument segment kept verbatim.
const DefaultMaxSegment = 128

type defaultKeySerializer struct {
	maxSegment int
}

// NewDefaultKeySerializer returns a serializer with DefaultMaxSegment.
func NewDefaultKeySerializer() KeySerializer {
	return NewKeySerializer(DefaultMaxSegment)
}

// NewKeySerializer returns a serializer that replaces argument segments
// longer than maxSegment with their xxhash digest. Zero or less keeps every
// segment verbatim.
func NewKeySerializer(maxSegment int) KeySerializer {
	return &defaultKeySerializer{maxSegment: maxSegment}
}

// SerializeKey renders method followed by one segment per argument.
// Method names are never hashed so prefix invalidation keeps working.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) string {
	var b strings.Builder
	b.WriteString(method)
	for _, arg := range args {
		var seg strings.Builder
		writeValue(&seg, reflect.ValueOf(arg))
		b.WriteString(KeySeparator)
		b.WriteString(s.shorten(seg.String()))
	}
	return b.String()
}

func (s *defaultKeySerializer) shorten(seg string) string {
	if s.maxSegment <= 0 || len(seg) <= s.maxSegment {
		return seg
	}
	return "xx:" + strconv.FormatUint(xxhash.Sum64String(seg), 16)
}

var timeType = reflect.TypeFor[time.Time]()

func writeValue(b *strings.Builder, v reflect.Value) {
	if !v.IsValid() {
		b.WriteString("nil")
		return
	}
	if v.Type() == timeType {
		b.WriteString(v.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
		return
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			b.WriteString("nil")
			return
		}
		writeValue(b, v.Elem())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			b.WriteString("nil")
			return
		}
		fmt.Fprintf(b, "%s:%#x", v.Kind(), v.Pointer())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			b.WriteString("[]")
			return
		}
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, v.Index(i))
		}
		b.WriteByte(']')
	case reflect.Map:
		pairs := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			var kb, vb strings.Builder
			writeValue(&kb, iter.Key())
			writeValue(&vb, iter.Value())
			pairs = append(pairs, kb.String()+"="+vb.String())
		}
		sort.Strings(pairs)
		b.WriteString("{" + strings.Join(pairs, ",") + "}")
	case reflect.Struct:
		t := v.Type()
		b.WriteString(t.Name() + "{")
		first := true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(f.Name + ":")
			writeValue(b, v.Field(i))
		}
		b.WriteByte('}')
	case reflect.String:
		b.WriteString(strconv.Quote(v.String()))
	default:
		fmt.Fprintf(b, "%v", v.Interface())
	}
}
