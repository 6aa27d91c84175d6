package command

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/models"
)

// Parameters that may be given as one value per K.
var perKParams = []string{"alpha", "alphaPropSD"}

type maverickBuilder struct{}

func (maverickBuilder) Kind() models.ProgramKind { return models.Maverick }

func (maverickBuilder) Prepare(cfg config.RunConfiguration) (JobContext, error) {
	perK, err := MaverickFailsafe(cfg.Params, cfg.KList)
	if err != nil {
		return JobContext{}, err
	}
	return JobContext{Config: cfg, Input: cfg.InputFile, PerK: perK}, nil
}

// Build produces
//
//	MavericK -Kmin k -Kmax k -data in -outputRoot out/mav_K{k}/ -masterRoot / -parameters params
//	         [-thermodynamic_on f] [-alpha a] [-alphaPropSD s]
func (maverickBuilder) Build(jc JobContext, job models.Job) (Command, error) {
	cfg := jc.Config
	dir := MaverickOutputDir(cfg.OutputDir, job.K)

	masterRoot := "/"
	if runtime.GOOS == "windows" {
		masterRoot = ""
	}

	args := []string{
		"-Kmin", itoa(job.K), "-Kmax", itoa(job.K),
		"-data", jc.Input,
		"-outputRoot", dir,
		"-masterRoot", masterRoot,
		"-parameters", cfg.Params,
	}
	if cfg.NoTests {
		args = append(args, "-thermodynamic_on", "f")
	}
	for _, param := range perKParams {
		values, ok := jc.PerK[param]
		if !ok {
			continue
		}
		v, ok := values[job.K]
		if !ok {
			return Command{}, fmt.Errorf("no %s value prepared for K=%d", param, job.K)
		}
		args = append(args, "-"+param, v)
	}

	return Command{Program: cfg.ExternalProgram, Args: args, OutputPath: dir, Dirs: []string{dir}}, nil
}

// MaverickOutputDir returns out/mav_K{k} with the trailing separator
// MavericK requires.
func MaverickOutputDir(outDir string, k int) string {
	return filepath.Join(outDir, fmt.Sprintf("mav_K%d", k)) + string(os.PathSeparator)
}

// ParseMaverickParams returns the values of the requested keys from a
// MavericK parameter file. Only lines of the form "key<TAB>value" match, so
// "alpha" never picks up "alphaPropSD".
func ParseMaverickParams(path string, keys ...string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parameter file: %w", err)
	}
	defer f.Close()

	result := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, key := range keys {
			if !strings.HasPrefix(line, key+"\t") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, fmt.Errorf("parameter %q has no value", key)
			}
			result[fields[0]] = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	return result, nil
}

// MaverickFailsafe maps comma separated per-K values of alpha and
// alphaPropSD onto kList. A single value is left to the parameter file.
// A list whose length differs from kList is a configuration error.
func MaverickFailsafe(path string, kList []int) (map[string]map[int]string, error) {
	parsed, err := ParseMaverickParams(path, perKParams...)
	if err != nil {
		return nil, &config.ConfigError{Field: "params", Msg: "malformed MavericK parameter file", Err: err}
	}

	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	sort.Strings(names)

	perK := make(map[string]map[int]string)
	for _, name := range names {
		values := strings.Split(parsed[name], ",")
		if len(values) <= 1 {
			continue
		}
		if len(values) != len(kList) {
			return nil, config.Errorf("params",
				"the number of values provided for the %s parameter (%d) is not the same as the number of Ks provided (%d)",
				name, len(values), len(kList))
		}
		perK[name] = make(map[int]string, len(kList))
		for i, k := range kList {
			perK[name][k] = values[i]
		}
	}
	return perK, nil
}

// MaverickTIInUse reports whether thermodynamic integration is enabled in
// the parameter file. A missing setting means MavericK's default, on.
func MaverickTIInUse(path string) (bool, error) {
	parsed, err := ParseMaverickParams(path, "thermodynamic_on")
	if err != nil {
		return false, err
	}
	v, ok := parsed["thermodynamic_on"]
	if !ok {
		return true, nil
	}
	switch strings.ToLower(v) {
	case "f", "false", "0":
		return false, nil
	}
	return true, nil
}
