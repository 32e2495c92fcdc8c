package symbolic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoPaths 目录中没有任何可用的路径文件
var ErrNoPaths = errors.New("no usable path files")

// PathSet 一个程序版本的全部路径
type PathSet struct {
	Program string        `json:"program"`
	Dir     string        `json:"dir"`
	Paths   []*Path       `json:"-"`
	Errors  []*ParseError `json:"errors,omitempty"`
	Files   int           `json:"files"`
}

// LoadOptions 加载选项
type LoadOptions struct {
	Workers int         // 并发解析数, <=0 时使用CPU数
	Pattern string      // 文件名通配符, 为空时加载所有非隐藏文件
	Logger  *zap.Logger // 为空时不输出日志
}

// LoadDir 并发解析目录下的所有路径文件
// 解析失败的文件记录在PathSet.Errors中并被排除; 没有可用路径时返回ErrNoPaths
func LoadDir(ctx context.Context, dir string, opts LoadOptions) (*PathSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read path directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if opts.Pattern != "" {
			if ok, _ := filepath.Match(opts.Pattern, name); !ok {
				continue
			}
		}
		files = append(files, filepath.Join(dir, name))
	}

	return LoadFiles(ctx, filepath.Base(filepath.Clean(dir)), files, opts)
}

// LoadFiles 并发解析给定的路径文件
func LoadFiles(ctx context.Context, program string, files []string, opts LoadOptions) (*PathSet, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files = append([]string(nil), files...)
	sortByPathIndex(files)

	set := &PathSet{Program: program, Files: len(files)}
	if len(files) > 0 {
		set.Dir = filepath.Dir(files[0])
	}

	paths := make([]*Path, len(files))
	failures := make([]*ParseError, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := ParseFile(file)
			if err != nil {
				var perr *ParseError
				if !errors.As(err, &perr) {
					perr = &ParseError{File: filepath.Base(file), Msg: err.Error()}
				}
				failures[i] = perr
				return nil
			}
			// 预先计算签名, 比较阶段只读
			p.Signature()
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range paths {
		if p != nil {
			set.Paths = append(set.Paths, p)
			continue
		}
		if failures[i] != nil {
			set.Errors = append(set.Errors, failures[i])
			logger.Warn("[Loader] path excluded",
				zap.String("program", program),
				zap.String("file", failures[i].File),
				zap.Int("line", failures[i].Line),
				zap.String("reason", failures[i].Msg))
		}
	}
	assignIndices(set.Paths)

	logger.Info("[Loader] paths loaded",
		zap.String("program", program),
		zap.Int("files", set.Files),
		zap.Int("paths", len(set.Paths)),
		zap.Int("errors", len(set.Errors)))

	if len(set.Paths) == 0 {
		return set, fmt.Errorf("%s: %w", program, ErrNoPaths)
	}
	return set, nil
}

// assignIndices 缺失或重复的路径索引按列表位置 (从1开始) 补齐, 结果按索引排序
func assignIndices(paths []*Path) {
	used := make(map[int]bool, len(paths))
	var pending []*Path
	for _, p := range paths {
		if p.Index < 0 || used[p.Index] {
			pending = append(pending, p)
			continue
		}
		used[p.Index] = true
	}

	next := 1
	for _, p := range pending {
		for used[next] {
			next++
		}
		p.Index = next
		used[next] = true
	}

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Index < paths[j].Index })
}

// sortByPathIndex 按文件名中的 _path_<n> 数值排序, 其次按名称
func sortByPathIndex(files []string) {
	index := func(file string) int {
		m := pathIndexPattern.FindAllStringSubmatch(filepath.Base(file), -1)
		if len(m) == 0 {
			return -1
		}
		n, err := strconv.Atoi(m[len(m)-1][1])
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(files, func(i, j int) bool {
		a, b := index(files[i]), index(files[j])
		if a != b {
			return a < b
		}
		return files[i] < files[j]
	})
}
