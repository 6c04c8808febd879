package sink

// knownFields are the well-known readings extracted from a message for
// tabular storage. Unrecognized fields stay in the JSON form untouched.
type knownFields struct {
	Battery     *float64
	LinkQuality *float64
	Temperature *float64
	Humidity    *float64
	Motion      *bool // occupancy / motion / presence
	Contact     *bool
}

func extractKnown(fields map[string]any) knownFields {
	var k knownFields
	k.Battery = numField(fields, "battery")
	k.LinkQuality = numField(fields, "linkquality", "link_quality")
	k.Temperature = numField(fields, "temperature")
	k.Humidity = numField(fields, "humidity")
	k.Motion = boolField(fields, "occupancy", "motion", "presence")
	k.Contact = boolField(fields, "contact")
	return k
}

func numField(fields map[string]any, names ...string) *float64 {
	for _, name := range names {
		switch v := fields[name].(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func boolField(fields map[string]any, names ...string) *bool {
	for _, name := range names {
		if v, ok := fields[name].(bool); ok {
			b := v
			return &b
		}
	}
	return nil
}

func fmtNum(v *float64) string {
	if v == nil {
		return ""
	}
	return trimFloat(*v)
}

func fmtBool(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "true"
	}
	return "false"
}
