package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/claim"
	"github.com/unkn0wn-root/examcache/internal/app"
	"github.com/unkn0wn-root/examcache/internal/config"
	"github.com/unkn0wn-root/examcache/internal/tracing"
	"github.com/unkn0wn-root/examcache/model"
	"github.com/unkn0wn-root/examcache/store/postgres"
)

// Testable variables for main()
var (
	osExit  = os.Exit
	openApp = app.Open
	getenv  = os.Getenv
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return withApp(ctx, "migrate", rest, out, nil, migrate)
	case "user":
		return userCmd(ctx, rest, out)
	case "question":
		return questionCmd(ctx, rest, out)
	case "resource":
		return resourceCmd(ctx, rest, out)
	case "claim":
		return claimCmd(ctx, rest, out)
	case "stock":
		return stockCmd(ctx, rest, out)
	case "exams":
		return examsCmd(ctx, rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "examctl commands (all accept --config file.yaml):")
	fmt.Fprintln(out, "  migrate")
	fmt.Fprintln(out, "  user create --name ada [--role 2] [--email a@b.c] [--phone ...]")
	fmt.Fprintln(out, "  user get|delete --id <id>")
	fmt.Fprintln(out, "  user update --id <id> --name ada [--status 1]")
	fmt.Fprintln(out, "  user warm")
	fmt.Fprintln(out, "  question get|delete --id <id>")
	fmt.Fprintln(out, "  question create --creator <user id> --content \"...\" [--options '[...]'] [--answer '...']")
	fmt.Fprintln(out, "  resource create --id seat --name \"Seat\" [--stock 10]")
	fmt.Fprintln(out, "  claim --resource seat --subject <user id> [--request <id>]")
	fmt.Fprintln(out, "  stock --resource seat [--replenish 5] [--resync]")
	fmt.Fprintln(out, "  exams list --creator <user id> [--limit 10] [--cursor <c>]")
	fmt.Fprintln(out, "  exams create --creator <user id> --name \"...\" --start 2024-09-01T09:00:00Z --duration 90")
	fmt.Fprintln(out, "  exams update --id <id> [--name ...] [--start ...] [--end ...] [--duration 90] [--total 100] [--pass 60] [--status 1]")
	fmt.Fprintln(out, "  exams add-questions --id <exam id> --questions <id>,<id>")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// withApp parses args with the command's flags plus --config, loads
// configuration and runs fn against an opened App.
func withApp(ctx context.Context, name string, args []string, out io.Writer,
	define func(fs *flag.FlagSet), fn func(ctx context.Context, a *app.App, out io.Writer) error,
) error {
	fs := newFlagSet(name)
	cfgPath := fs.String("config", "", "YAML config file")
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	cfg, err := config.Load(*cfgPath, getenv)
	if err != nil {
		return err
	}

	logger, flush, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = flush() }()

	shutdown, err := tracing.Init(tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		Service:     cfg.Tracing.Service,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	if cfg.Cache.WarmOnStart {
		if _, err := a.Users.WarmIndex(ctx); err != nil {
			logger.Warn("warm on start failed", examcache.Fields{"err": err})
		}
	}
	return fn(ctx, a, out)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrate(ctx context.Context, a *app.App, out io.Writer) error {
	applied, err := postgres.Migrate(ctx, a.DB, a.Log)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"applied": applied})
}

func sub(args []string, out io.Writer, group string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		usage(out)
		return "", nil, fmt.Errorf("%s: subcommand required", group)
	}
	return args[0], args[1:], nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func userCmd(ctx context.Context, args []string, out io.Writer) error {
	name, rest, err := sub(args, out, "user")
	if err != nil {
		return err
	}
	var (
		id, uname, email, phone, address, avatar, birthday string
		role, status                                      int
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "user id")
		fs.StringVar(&uname, "name", "", "user name")
		fs.IntVar(&role, "role", int(model.RoleStudent), "0 admin, 1 teacher, 2 student")
		fs.IntVar(&status, "status", int(model.StatusActive), "0 disabled, 1 active")
		fs.StringVar(&email, "email", "", "profile email")
		fs.StringVar(&phone, "phone", "", "profile phone")
		fs.StringVar(&address, "address", "", "profile address")
		fs.StringVar(&avatar, "avatar", "", "profile avatar url")
		fs.StringVar(&birthday, "birthday", "", "profile birthday, YYYY-MM-DD")
	}
	build := func() (model.User, error) {
		u := model.User{ID: id, Name: uname, Role: model.Role(role), Status: model.Status(status)}
		p := model.Profile{Email: optString(email), Phone: optString(phone), Address: optString(address), Avatar: optString(avatar)}
		if birthday != "" {
			b, err := time.Parse(time.DateOnly, birthday)
			if err != nil {
				return model.User{}, fmt.Errorf("user: birthday: %w", err)
			}
			p.Birthday = &b
		}
		if p != (model.Profile{}) {
			u.Profile = &p
		}
		return u, nil
	}
	needID := func() error {
		if id == "" {
			return errors.New("user: --id required")
		}
		return nil
	}

	switch name {
	case "create":
		return withApp(ctx, "user create", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			u, err := build()
			if err != nil {
				return err
			}
			created, err := a.Users.Create(ctx, u)
			if err != nil {
				return err
			}
			return writeJSON(out, created)
		})
	case "get":
		return withApp(ctx, "user get", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if err := needID(); err != nil {
				return err
			}
			u, err := a.Users.Get(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(out, u)
		})
	case "update":
		return withApp(ctx, "user update", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if err := needID(); err != nil {
				return err
			}
			u, err := build()
			if err != nil {
				return err
			}
			if err := a.Users.Update(ctx, u); err != nil {
				return err
			}
			return writeJSON(out, u)
		})
	case "delete":
		return withApp(ctx, "user delete", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if err := needID(); err != nil {
				return err
			}
			if err := a.Users.Delete(ctx, id); err != nil {
				return err
			}
			return writeJSON(out, map[string]string{"deleted": id})
		})
	case "warm":
		return withApp(ctx, "user warm", rest, out, nil, func(ctx context.Context, a *app.App, out io.Writer) error {
			n, err := a.Users.WarmIndex(ctx)
			if err != nil {
				return err
			}
			return writeJSON(out, map[string]int{"indexed": n})
		})
	default:
		usage(out)
		return fmt.Errorf("unknown user command: %s", name)
	}
}

func questionCmd(ctx context.Context, args []string, out io.Writer) error {
	name, rest, err := sub(args, out, "question")
	if err != nil {
		return err
	}
	var (
		id, creator, content, options, answer string
		qtype                                 int
		score                                 float64
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "question id")
		fs.StringVar(&creator, "creator", "", "creator user id")
		fs.StringVar(&content, "content", "", "question text")
		fs.StringVar(&options, "options", "", "options JSON")
		fs.StringVar(&answer, "answer", "", "answer JSON")
		fs.IntVar(&qtype, "type", 0, "question type")
		fs.Float64Var(&score, "score", 0, "score")
	}
	switch name {
	case "get":
		return withApp(ctx, "question get", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if id == "" {
				return errors.New("question: --id required")
			}
			q, err := a.Catalog.Get(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(out, q)
		})
	case "create":
		return withApp(ctx, "question create", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if creator == "" || content == "" {
				return errors.New("question: --creator and --content required")
			}
			q := model.Question{Creator: creator, Type: qtype, Content: content, Score: score}
			if options != "" {
				q.Options = json.RawMessage(options)
			}
			if answer != "" {
				q.Answer = json.RawMessage(answer)
			}
			created, err := a.Catalog.Create(ctx, q)
			if err != nil {
				return err
			}
			return writeJSON(out, created)
		})
	case "delete":
		return withApp(ctx, "question delete", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if id == "" {
				return errors.New("question: --id required")
			}
			if err := a.Catalog.Delete(ctx, id); err != nil {
				return err
			}
			return writeJSON(out, map[string]string{"deleted": id})
		})
	default:
		usage(out)
		return fmt.Errorf("unknown question command: %s", name)
	}
}

func resourceCmd(ctx context.Context, args []string, out io.Writer) error {
	name, rest, err := sub(args, out, "resource")
	if err != nil {
		return err
	}
	if name != "create" {
		usage(out)
		return fmt.Errorf("unknown resource command: %s", name)
	}
	var (
		id, rname string
		stock     int64
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "resource id")
		fs.StringVar(&rname, "name", "", "display name")
		fs.Int64Var(&stock, "stock", -1, "finite stock; omit for unbounded")
	}
	return withApp(ctx, "resource create", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
		if id == "" {
			return errors.New("resource: --id required")
		}
		res := model.Resource{ID: id, Name: rname, Bounded: stock >= 0, Remaining: max(stock, 0)}
		if res.Name == "" {
			res.Name = id
		}
		if err := a.Grants.CreateResource(ctx, res); err != nil {
			return err
		}
		return writeJSON(out, res)
	})
}

func claimCmd(ctx context.Context, args []string, out io.Writer) error {
	var resource, subject, request string
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&resource, "resource", "", "resource id")
		fs.StringVar(&subject, "subject", "", "subject (user) id")
		fs.StringVar(&request, "request", "", "idempotency key; generated when empty")
	}
	return withApp(ctx, "claim", args, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
		if request == "" {
			request = uuid.NewString()
		}
		res, err := a.Claims.Claim(ctx, claim.Request{RequestID: request, ResourceID: resource, SubjectID: subject})
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{
			"request_id": request,
			"token":      res.Token,
			"outcome":    res.Outcome.String(),
			"replayed":   res.Replayed,
			"converged":  res.Converged,
		})
	})
}

func stockCmd(ctx context.Context, args []string, out io.Writer) error {
	var (
		resource  string
		replenish int64
		resync    bool
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&resource, "resource", "", "resource id")
		fs.Int64Var(&replenish, "replenish", 0, "units to add")
		fs.BoolVar(&resync, "resync", false, "drop the counter so it reseeds from the database")
	}
	return withApp(ctx, "stock", args, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
		if resource == "" {
			return errors.New("stock: --resource required")
		}
		if replenish > 0 {
			if _, err := a.Claims.Replenish(ctx, resource, replenish); err != nil {
				return err
			}
		}
		if resync {
			if err := a.Claims.Resync(ctx, resource); err != nil {
				return err
			}
		}
		res, err := a.Grants.LoadResource(ctx, resource)
		if err != nil {
			return err
		}
		n, seeded, err := a.Claims.Stock(ctx, resource)
		if err != nil {
			return err
		}
		report := map[string]any{"resource": res.ID, "bounded": res.Bounded, "persisted": res.Remaining}
		if seeded {
			report["counter"] = n
		}
		return writeJSON(out, report)
	})
}

func examsCmd(ctx context.Context, args []string, out io.Writer) error {
	name, rest, err := sub(args, out, "exams")
	if err != nil {
		return err
	}
	var (
		creator, cursor, ename, start string
		limit, duration               int
		total, pass                   float64
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&creator, "creator", "", "creator user id")
		fs.StringVar(&cursor, "cursor", "", "next_cursor from the previous page")
		fs.IntVar(&limit, "limit", 0, "page size (1..max, default from config)")
		fs.StringVar(&ename, "name", "", "exam name")
		fs.StringVar(&start, "start", "", "start time, RFC3339")
		fs.IntVar(&duration, "duration", 60, "minutes")
		fs.Float64Var(&total, "total", 100, "total score")
		fs.Float64Var(&pass, "pass", 60, "pass score")
	}
	switch name {
	case "list":
		return withApp(ctx, "exams list", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if creator == "" {
				return errors.New("exams: --creator required")
			}
			filter := model.ExamFilter{Creator: creator}
			page, err := a.Exams.ListPage(ctx, filter, limit, cursor)
			if err != nil {
				return err
			}
			count, err := a.ExamRepo.CountByCreator(ctx, creator)
			if err != nil {
				return err
			}
			return writeJSON(out, map[string]any{
				"items":       page.Items,
				"next_cursor": page.NextCursor,
				"total":       count,
			})
		})
	case "create":
		return withApp(ctx, "exams create", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			st, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("exams: --start: %w", err)
			}
			e := model.Exam{
				Name:       ename,
				TotalScore: total,
				PassScore:  pass,
				Duration:   duration,
				Creator:    creator,
				StartTime:  st.UTC(),
				EndTime:    st.UTC().Add(time.Duration(duration) * time.Minute),
			}
			created, err := a.ExamRepo.Create(ctx, e)
			if err != nil {
				return err
			}
			return writeJSON(out, created)
		})
	case "update":
		return examsUpdate(ctx, rest, out)
	case "add-questions":
		var id, questions string
		define := func(fs *flag.FlagSet) {
			fs.StringVar(&id, "id", "", "exam id")
			fs.StringVar(&questions, "questions", "", "comma separated question ids")
		}
		return withApp(ctx, "exams add-questions", rest, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
			if id == "" || questions == "" {
				return errors.New("exams: --id and --questions required")
			}
			added, err := a.ExamRepo.AddQuestions(ctx, id, splitIDs(questions))
			if err != nil {
				return err
			}
			linked, err := a.ExamRepo.QuestionIDs(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(out, map[string]any{"exam": id, "added": added, "questions": linked})
		})
	default:
		usage(out)
		return fmt.Errorf("unknown exams command: %s", name)
	}
}

// examsUpdate applies only the flags given on the command line.
func examsUpdate(ctx context.Context, args []string, out io.Writer) error {
	var (
		id string
		ch model.ExamChanges
	)
	define := func(fs *flag.FlagSet) {
		fs.StringVar(&id, "id", "", "exam id")
		fs.Func("name", "exam name", func(v string) error { ch.Name = &v; return nil })
		fs.Func("start", "start time, RFC3339", timeFlag(&ch.StartTime))
		fs.Func("end", "end time, RFC3339", timeFlag(&ch.EndTime))
		fs.Func("duration", "minutes", intFlag(&ch.Duration))
		fs.Func("type", "exam type", intFlag(&ch.Type))
		fs.Func("difficulty", "difficulty level", intFlag(&ch.DifficultyLevel))
		fs.Func("grade", "grade level", intFlag(&ch.GradeLevel))
		fs.Func("status", "exam status", intFlag(&ch.Status))
		fs.Func("total", "total score", floatFlag(&ch.TotalScore))
		fs.Func("pass", "pass score", floatFlag(&ch.PassScore))
	}
	return withApp(ctx, "exams update", args, out, define, func(ctx context.Context, a *app.App, out io.Writer) error {
		if id == "" {
			return errors.New("exams: --id required")
		}
		if ch.Empty() {
			return errors.New("exams: nothing to update")
		}
		updated, err := a.ExamRepo.Update(ctx, id, ch)
		if err != nil {
			return err
		}
		return writeJSON(out, updated)
	})
}

func timeFlag(dst **time.Time) func(string) error {
	return func(v string) error {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return err
		}
		t = t.UTC()
		*dst = &t
		return nil
	}
}

func intFlag(dst **int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = &n
		return nil
	}
}

func floatFlag(dst **float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = &f
		return nil
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
