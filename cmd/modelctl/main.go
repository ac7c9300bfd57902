package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/modelhub/pkg/client"
	"gopkg.in/yaml.v3"
)

const usage = `usage: modelctl [-addr URL] [-o json|yaml] <command> [args]

commands:
  register -model NAME -d N -classes N [-params JSON]
  get ID
  train ID -x 1,2,3 -y LABEL
  predict ID -x 1,2,3
  list
  groups
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "modelctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("modelctl", flag.ContinueOnError)
	addr := global.String("addr", envOr("MODELHUB_ADDR", "http://localhost:8080"), "model service base URL")
	format := global.String("o", "json", "output format: json or yaml")
	timeout := global.Duration("timeout", 10*time.Second, "request timeout")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	c := client.New(*addr, client.NewHTTPClient(*timeout))
	ctx := context.Background()
	cmd, rest := global.Arg(0), global.Args()[1:]

	var result interface{}
	var err error
	switch cmd {
	case "register":
		result, err = register(ctx, c, rest)
	case "get":
		var id uint64
		if id, _, err = modelID(rest); err == nil {
			result, err = c.Get(ctx, id)
		}
	case "train":
		result, err = train(ctx, c, rest)
	case "predict":
		result, err = predict(ctx, c, rest)
	case "list":
		result, err = c.List(ctx)
	case "groups":
		result, err = c.Groups(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	return render(out, *format, result)
}

func register(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	model := fs.String("model", "", "classifier type")
	d := fs.Int("d", 0, "feature dimension")
	classes := fs.Int("classes", 0, "number of classes")
	rawParams := fs.String("params", "{}", "classifier params as a JSON object")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(*rawParams), &params); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	id, err := c.Register(ctx, *model, params, *d, *classes)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"id": id}, nil
}

func train(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
	id, args, err := modelID(args)
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	rawX := fs.String("x", "", "comma separated features")
	y := fs.Int("y", -1, "class label")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	x, err := parseFloats(*rawX)
	if err != nil {
		return nil, err
	}
	if err := c.Train(ctx, id, x, *y); err != nil {
		return nil, err
	}
	return map[string]uint64{"id": id}, nil
}

func predict(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
	id, args, err := modelID(args)
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	rawX := fs.String("x", "", "comma separated features")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	x, err := parseFloats(*rawX)
	if err != nil {
		return nil, err
	}
	label, err := c.Predict(ctx, id, x)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"x": x, "y": label}, nil
}

func modelID(args []string) (uint64, []string, error) {
	if len(args) == 0 {
		return 0, nil, errors.New("missing model id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid model id %q", args[0])
	}
	return id, args[1:], nil
}

func parseFloats(raw string) ([]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return []float64{}, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature %q", part)
		}
		values = append(values, v)
	}
	return values, nil
}

func render(out io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
