package gena

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Property 一个状态变量的新值
type Property struct {
	Name  string
	Value string
}

type propertySet struct {
	XMLName    xml.Name   `xml:"propertyset"`
	Properties []property `xml:"property"`
}

type property struct {
	Vars []variable `xml:",any"`
}

type variable struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// ParsePropertySet 解析 NOTIFY 请求体，不校验命名空间，部分路由器会省略
func ParsePropertySet(r io.Reader) ([]Property, error) {
	var set propertySet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("解析 propertyset 失败: %w", err)
	}
	var props []Property
	for _, p := range set.Properties {
		for _, v := range p.Vars {
			props = append(props, Property{Name: v.XMLName.Local, Value: strings.TrimSpace(v.Value)})
		}
	}
	return props, nil
}
