package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/header"
)

type headerReport struct {
	Model    string   `json:"model"`
	SensorID string   `json:"sensor_id,omitempty"`
	Date     string   `json:"date,omitempty"`
	Time     string   `json:"time,omitempty"`
	BaseTime string   `json:"base_time,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Columns  []string `json:"columns"`
}

func main() {
	var (
		modelPath = flag.String("model", "", "Sensor model file (.yaml|.yml|.json)")
		jsonOut   = flag.Bool("json", false, "Emit header metadata as JSON")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --model model.yaml [flags] <path-to-sensor-log>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || strings.TrimSpace(*modelPath) == "" {
		flag.Usage()
		os.Exit(2)
	}

	model, err := config.LoadSensorModel(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load model failed: %v\n", err)
		os.Exit(1)
	}
	md, err := header.Parse(flag.Arg(0), model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "header parse failed: %v\n", err)
		os.Exit(1)
	}
	if model.Timezone != "" {
		if err := md.AttachTimezone(model.Timezone); err != nil {
			fmt.Fprintf(os.Stderr, "header parse failed: %v\n", err)
			os.Exit(1)
		}
	}

	report := headerReport{
		Model:    model.Name,
		SensorID: md.SensorID,
		Date:     md.Date,
		Time:     md.Time,
		Timezone: model.Timezone,
		Columns:  md.Columns,
	}
	if md.HasBaseTime() {
		report.BaseTime = md.BaseTime.Format("2006-01-02T15:04:05.999999999")
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "json encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Model:     %s\n", report.Model)
	fmt.Printf("Sensor ID: %s\n", valueOr(report.SensorID, "(not configured)"))
	fmt.Printf("Date:      %s\n", valueOr(report.Date, "(not configured)"))
	fmt.Printf("Time:      %s\n", valueOr(report.Time, "(midnight)"))
	fmt.Printf("Start:     %s %s\n", valueOr(report.BaseTime, "(unknown)"), report.Timezone)
	fmt.Println()
	fmt.Println("Columns")
	for i, name := range report.Columns {
		spec, ok := model.Column(name)
		kind := "inferred"
		if ok && spec.DataType != "" {
			kind = string(spec.DataType)
		}
		fmt.Printf("- %02d %-20s %s\n", i+1, name, kind)
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
