//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/daemon"
	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/infra"
	"github.com/pavkata12/client8/internal/metrics"
	"github.com/pavkata12/client8/internal/policy"
	"github.com/pavkata12/client8/internal/remote"
	"github.com/pavkata12/client8/internal/usecase"
	"github.com/pavkata12/client8/test/fixtures"
)

var _ = Describe("Lockdown agent", func() {
	var (
		tmpDir    string
		authority *fixtures.FakeAuthority
		filter    *hookFilter
		procs     *processTable
		store     *memStore
		notices   *noticeLog
		journal   *infra.EncryptedJournal
		status    *infra.StatusFile
		ctrl      *daemon.Controller
		ctrlCfg   daemon.ControllerConfig

		cancel  context.CancelFunc
		stopped chan struct{}
	)

	altTab := func() domain.KeyDecision { return filter.chord(policy.VKLMenu, policy.VKTab) }
	phase := func() domain.ControllerPhase { return ctrl.Status().Phase }

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "kioskd-integration-*")
		Expect(err).NotTo(HaveOccurred())

		authority = fixtures.NewFakeAuthority()
		authority.AddUser("alice", "pw", 30)
		authority.AddUser("bob", "pw", 1)

		filter = newHookFilter()
		procs = newProcessTable()
		procs.spawn(4242, "Taskmgr.exe")
		store = newMemStore()
		notices = &noticeLog{}

		ctrlCfg = daemon.DefaultControllerConfig()
		ctrlCfg.GuardInterval = 20 * time.Millisecond
		ctrlCfg.Backoff = daemon.BackoffConfig{Initial: 50 * time.Millisecond, Max: 200 * time.Millisecond, Multiplier: 2}
		ctrlCfg.ShutdownTimeout = time.Second
	})

	JustBeforeEach(func() {
		logger, _ := zap.NewDevelopment()

		set, err := policy.Build(policy.DefaultSpec())
		Expect(err).NotTo(HaveOccurred())

		m := metrics.New()
		interceptor := usecase.NewInterceptor(filter, elevated{}, logger)
		guard := usecase.NewProcessGuard(procs, nil, notices, m, logger, set.ProcessRules)

		journal, err = infra.OpenJournal(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		enforcer := usecase.NewRestrictionEnforcer(store, journal, m, logger)

		eps, err := remote.NewEndpoints([]domain.ServerEndpoint{authority.Endpoint()}, false)
		Expect(err).NotTo(HaveOccurred())
		client := remote.NewClient(remote.Config{
			ComputerID:     "pc-int",
			ConnectTimeout: time.Second,
			LoginTimeout:   2 * time.Second,
		}, eps, logger)

		ctrl = daemon.NewController(ctrlCfg, set, interceptor, guard, enforcer, client, notices, m, daemon.RealClock{}, logger)

		status = infra.NewStatusFile(filepath.Join(tmpDir, "status.json"), procs)
		supervisor := daemon.NewSupervisor(daemon.SupervisorConfig{
			GuardCheckInterval: 20 * time.Millisecond,
			HeartbeatInterval:  20 * time.Millisecond,
		}, guard, ctrl, status, logger)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		stopped = make(chan struct{})
		go func() {
			defer close(stopped)
			go func() { _ = supervisor.Run(ctx) }()
			_ = ctrl.Run(ctx)
		}()

		Eventually(phase, 3*time.Second).Should(Equal(domain.PhaseLockedAwaitingLogin))
	})

	AfterEach(func() {
		cancel()
		Eventually(stopped, 3*time.Second).Should(BeClosed())
		journal.Close()
		authority.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("startup", func() {
		It("locks the machine before anyone logs in", func() {
			Expect(filter.installed()).To(BeTrue())
			Expect(altTab()).To(Equal(domain.KeyBlock))

			v, ok := store.get(policy.SystemPoliciesPath + `\DisableTaskMgr`)
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(uint32(1)))
			Expect(store.len()).To(Equal(len(policy.DefaultRestrictions())))

			Eventually(procs.killedNames, time.Second).Should(ContainElement("Taskmgr.exe"))
			Expect(authority.ComputerIDs()).To(ContainElement("pc-int"))
		})

		It("publishes the status file", func() {
			Eventually(func() domain.ControllerPhase {
				st, err := status.Read()
				if err != nil || st == nil {
					return ""
				}
				return st.Phase
			}, time.Second).Should(Equal(domain.PhaseLockedAwaitingLogin))
		})
	})

	Describe("login", func() {
		Context("with valid credentials", func() {
			It("relaxes the key filter but keeps the restrictions", func() {
				ctrl.SubmitCredentials("alice", []byte("pw"))
				Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseSessionActive))

				Expect(ctrl.Status().RemainingSeconds).To(BeNumerically(">", 29*60))
				Expect(altTab()).To(Equal(domain.KeyPass))
				Expect(filter.chord(policy.VKLWin)).To(Equal(domain.KeyBlock))
				Expect(store.len()).To(Equal(len(policy.DefaultRestrictions())))
				Expect(notices.seen()).To(ContainElement("Session started"))

				logins := authority.Logins()
				Expect(logins).To(HaveLen(1))
				Expect(logins[0].ComputerID).To(Equal("pc-int"))
			})
		})

		Context("with a wrong password", func() {
			It("stays locked", func() {
				ctrl.SubmitCredentials("alice", []byte("nope"))
				Eventually(notices.seen, 2*time.Second).Should(ContainElement("Login failed"))
				Expect(phase()).To(Equal(domain.PhaseLockedAwaitingLogin))
				Expect(altTab()).To(Equal(domain.KeyBlock))
			})
		})
	})

	Describe("session end", func() {
		Context("when the countdown runs out", func() {
			BeforeEach(func() {
				ctrlCfg.TickInterval = 5 * time.Millisecond
			})

			It("re-locks and reports the minutes used", func() {
				ctrl.SubmitCredentials("bob", []byte("pw"))
				Eventually(notices.seen, 2*time.Second).Should(ContainElement("Session started"))
				Eventually(notices.seen, 3*time.Second).Should(ContainElement("Session ended"))
				Eventually(phase, time.Second).Should(Equal(domain.PhaseLockedAwaitingLogin))

				Expect(altTab()).To(Equal(domain.KeyBlock))
				Eventually(authority.Logouts, time.Second).Should(HaveLen(1))
				Expect(authority.Logouts()[0].MinutesUsed).To(Equal(1))
				Expect(notices.seen()).To(ContainElement("Time running out"))
			})
		})

		Context("when the server forces a logout", func() {
			It("re-locks immediately", func() {
				ctrl.SubmitCredentials("alice", []byte("pw"))
				Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseSessionActive))

				Expect(authority.Push(map[string]any{"type": "force_logout", "message": "closing time"})).To(Succeed())
				Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseLockedAwaitingLogin))
				Expect(altTab()).To(Equal(domain.KeyBlock))
			})
		})

		Context("when the server adds time", func() {
			It("updates the remaining time", func() {
				ctrl.SubmitCredentials("alice", []byte("pw"))
				Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseSessionActive))

				Expect(authority.Push(map[string]any{"type": "time_update", "minutes": 90})).To(Succeed())
				Eventually(func() int { return ctrl.Status().RemainingSeconds }, 2*time.Second).
					Should(BeNumerically(">", 89*60))
			})
		})

		Context("when the push channel drops", func() {
			It("ends the session and reconnects", func() {
				ctrl.SubmitCredentials("alice", []byte("pw"))
				Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseSessionActive))

				authority.DropConnections()
				Eventually(notices.seen, 2*time.Second).Should(ContainElement("Session ended"))
				Expect(altTab()).To(Equal(domain.KeyBlock))

				Eventually(phase, 3*time.Second).Should(Equal(domain.PhaseLockedAwaitingLogin))
				Expect(authority.ConnAttempts()).To(BeNumerically(">=", 2))
			})
		})
	})

	Describe("shutdown", func() {
		It("releases every restriction and the key filter", func() {
			ctrl.SubmitCredentials("alice", []byte("pw"))
			Eventually(phase, 2*time.Second).Should(Equal(domain.PhaseSessionActive))

			cancel()
			Eventually(stopped, 3*time.Second).Should(BeClosed())

			Expect(filter.installed()).To(BeFalse())
			Expect(store.len()).To(BeZero())

			snaps, err := journal.LoadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(snaps).To(BeEmpty())
		})
	})
})
